package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Database wraps the GORM DB handle and exposes repository helpers.
type Database struct {
	gorm *gorm.DB
	mu   sync.Mutex
}

// Open initializes the database for driver ("sqlite" or "postgres") and migrates the schema.
func Open(driver, dsn string, silent bool) (*Database, error) {
	cfg := &gorm.Config{}
	if silent {
		cfg.Logger = logger.Default.LogMode(logger.Silent)
	}

	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&Customer{}, &Lead{}, &Conversation{}, &Message{}, &Task{}, &Interaction{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	if db.Dialector.Name() == "sqlite" {
		if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
			logrus.WithError(err).Warn("enable WAL mode")
		}
		if err := db.Exec("PRAGMA synchronous=NORMAL").Error; err != nil {
			logrus.WithError(err).Warn("set synchronous pragma")
		}
	}
	if err := applyIndexes(db); err != nil {
		return nil, fmt.Errorf("apply indexes: %w", err)
	}
	return &Database{gorm: db}, nil
}

// GORM exposes the raw gorm.DB handle.
func (d *Database) GORM() *gorm.DB {
	return d.gorm
}

// Close closes the underlying database connection.
func (d *Database) Close() error {
	if d == nil {
		return nil
	}
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Shutdown closes the database when the owning container shuts down.
func (d *Database) Shutdown() error {
	return d.Close()
}

func applyIndexes(db *gorm.DB) error {
	stmts := []string{
		"CREATE INDEX IF NOT EXISTS idx_messages_conversation_id_id ON messages(conversation_id, id)",
		"CREATE INDEX IF NOT EXISTS idx_tasks_status_created ON tasks(status, created_at)",
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// CreateCustomer inserts a customer.
func (d *Database) CreateCustomer(ctx context.Context, customer *Customer) error {
	if customer == nil {
		return errors.New("customer is nil")
	}
	customer.Name = strings.TrimSpace(customer.Name)
	customer.Phone = strings.TrimSpace(customer.Phone)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.WithContext(ctx).Create(customer).Error
}

// GetCustomer retrieves a customer by ID.
func (d *Database) GetCustomer(ctx context.Context, id uint) (*Customer, error) {
	var customer Customer
	if err := d.gorm.WithContext(ctx).First(&customer, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &customer, nil
}

// CreateLead inserts a lead for an existing customer.
func (d *Database) CreateLead(ctx context.Context, lead *Lead) error {
	if lead == nil {
		return errors.New("lead is nil")
	}
	if _, err := d.GetCustomer(ctx, lead.CustomerID); err != nil {
		return fmt.Errorf("lead customer %d: %w", lead.CustomerID, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.WithContext(ctx).Create(lead).Error
}

// CreateConversation inserts a conversation in the active state.
func (d *Database) CreateConversation(ctx context.Context, conversation *Conversation) error {
	if conversation == nil {
		return errors.New("conversation is nil")
	}
	if _, err := d.GetCustomer(ctx, conversation.CustomerID); err != nil {
		return fmt.Errorf("conversation customer %d: %w", conversation.CustomerID, err)
	}
	if conversation.Status == "" {
		conversation.Status = ConversationActive
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.WithContext(ctx).Create(conversation).Error
}

// LoadConversation returns the conversation with its customer and optional lead.
func (d *Database) LoadConversation(ctx context.Context, id uint) (*ConversationContext, error) {
	db := d.gorm.WithContext(ctx)
	var out ConversationContext
	if err := db.First(&out.Conversation, id).Error; err != nil {
		return nil, notFound(err)
	}
	if err := db.First(&out.Customer, out.Conversation.CustomerID).Error; err != nil {
		return nil, fmt.Errorf("conversation %d customer: %w", id, notFound(err))
	}
	if out.Conversation.LeadID != nil {
		var lead Lead
		err := db.First(&lead, *out.Conversation.LeadID).Error
		switch {
		case err == nil:
			out.Lead = &lead
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, fmt.Errorf("conversation %d lead: %w", id, err)
		}
	}
	return &out, nil
}

// AppendMessage adds one turn to a conversation.
func (d *Database) AppendMessage(ctx context.Context, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.WithContext(ctx).Create(message).Error
}

// RecentMessages returns the last limit turns of a conversation, oldest first.
func (d *Database) RecentMessages(ctx context.Context, conversationID uint, limit int) ([]Message, error) {
	var rows []Message
	query := d.gorm.WithContext(ctx).Where("conversation_id = ?", conversationID).Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// ListMessages returns every turn of a conversation in arrival order.
func (d *Database) ListMessages(ctx context.Context, conversationID uint) ([]Message, error) {
	var rows []Message
	if err := d.gorm.WithContext(ctx).Where("conversation_id = ?", conversationID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// CommitTurn stores the optional customer turn and the assistant turn and, when escalation
// is set, marks the conversation escalated and opens the task. All writes share one transaction.
func (d *Database) CommitTurn(ctx context.Context, userTurn, assistantTurn *Message, escalation *Task) error {
	if assistantTurn == nil {
		return errors.New("assistant turn is nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if userTurn != nil {
			if err := tx.Create(userTurn).Error; err != nil {
				return fmt.Errorf("create user turn: %w", err)
			}
		}
		if err := tx.Create(assistantTurn).Error; err != nil {
			return fmt.Errorf("create assistant turn: %w", err)
		}
		if escalation == nil {
			return nil
		}
		if err := tx.Model(&Conversation{}).
			Where("id = ?", assistantTurn.ConversationID).
			Updates(map[string]any{"status": ConversationEscalated, "updated_at": time.Now()}).Error; err != nil {
			return fmt.Errorf("mark escalated: %w", err)
		}
		if escalation.Status == "" {
			escalation.Status = TaskStatusOpen
		}
		if err := tx.Create(escalation).Error; err != nil {
			return fmt.Errorf("create escalation task: %w", err)
		}
		return nil
	})
}

// RecordDelivery stores the dispatch outcome on an assistant turn.
func (d *Database) RecordDelivery(ctx context.Context, messageID uint, delivery Delivery) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.WithContext(ctx).Model(&Message{}).
		Where("id = ?", messageID).
		Updates(map[string]any{
			"delivery_status":     delivery.Status,
			"provider":            delivery.Provider,
			"provider_message_id": delivery.ProviderMessageID,
			"delivery_error":      truncate(delivery.Error, 512),
		}).Error
}

// ListTasks returns tasks newest first, optionally filtered by status.
func (d *Database) ListTasks(ctx context.Context, status string) ([]Task, error) {
	query := d.gorm.WithContext(ctx).Model(&Task{}).Order("id DESC")
	if status = strings.TrimSpace(status); status != "" {
		query = query.Where("status = ?", status)
	}
	var rows []Task
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// CreateInteraction stores an inbound transcript for later analysis.
func (d *Database) CreateInteraction(ctx context.Context, interaction *Interaction) error {
	if interaction == nil {
		return errors.New("interaction is nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.WithContext(ctx).Create(interaction).Error
}

// GetInteraction retrieves an interaction by ID.
func (d *Database) GetInteraction(ctx context.Context, id uint) (*Interaction, error) {
	var interaction Interaction
	if err := d.gorm.WithContext(ctx).First(&interaction, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &interaction, nil
}

// PendingInteractions returns interactions that have not been analyzed yet, oldest first.
func (d *Database) PendingInteractions(ctx context.Context, limit int) ([]Interaction, error) {
	query := d.gorm.WithContext(ctx).Where("analyzed_at IS NULL").Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []Interaction
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// SaveInteraction persists analysis results and the optional escalation task together.
func (d *Database) SaveInteraction(ctx context.Context, interaction *Interaction, escalation *Task) error {
	if interaction == nil {
		return errors.New("interaction is nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(interaction).Error; err != nil {
			return fmt.Errorf("save interaction: %w", err)
		}
		if escalation == nil {
			return nil
		}
		if escalation.Status == "" {
			escalation.Status = TaskStatusOpen
		}
		if err := tx.Create(escalation).Error; err != nil {
			return fmt.Errorf("create escalation task: %w", err)
		}
		return nil
	})
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return strings.ToValidUTF8(value[:limit], "")
}
