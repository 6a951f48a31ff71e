package store

import (
	"context"
	"errors"
	"fmt"
)

// StatusCount is one row of a grouped count.
type StatusCount struct {
	Status string `json:"status"`
	Total  int64  `json:"total"`
}

// Stats aggregates dashboard counters.
type Stats struct {
	Customers     int64         `json:"customers"`
	Conversations []StatusCount `json:"conversations"`
	OpenTasks     int64         `json:"open_tasks"`
	Deliveries    []StatusCount `json:"deliveries"`
	Pending       int64         `json:"pending_interactions"`
}

// Stats counts customers, conversations by status, deliveries by status and open work.
func (d *Database) Stats(ctx context.Context) (Stats, error) {
	if d == nil {
		return Stats{}, errors.New("database is nil")
	}
	db := d.gorm.WithContext(ctx)

	var out Stats
	if err := db.Model(&Customer{}).Count(&out.Customers).Error; err != nil {
		return Stats{}, fmt.Errorf("count customers: %w", err)
	}
	if err := db.Model(&Conversation{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Order("total DESC").
		Scan(&out.Conversations).Error; err != nil {
		return Stats{}, fmt.Errorf("conversations by status: %w", err)
	}
	if err := db.Model(&Message{}).
		Select("delivery_status AS status, COUNT(*) AS total").
		Where("sender = ? AND delivery_status <> ''", SenderAssistant).
		Group("delivery_status").
		Order("total DESC").
		Scan(&out.Deliveries).Error; err != nil {
		return Stats{}, fmt.Errorf("deliveries by status: %w", err)
	}
	if err := db.Model(&Task{}).Where("status = ?", TaskStatusOpen).Count(&out.OpenTasks).Error; err != nil {
		return Stats{}, fmt.Errorf("count open tasks: %w", err)
	}
	if err := db.Model(&Interaction{}).Where("analyzed_at IS NULL").Count(&out.Pending).Error; err != nil {
		return Stats{}, fmt.Errorf("count pending interactions: %w", err)
	}
	return out, nil
}
