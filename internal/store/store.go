/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store is the gorm-backed schedule repository. Channel lookups
// return (nil, nil) for channels that do not exist; errors mean the store
// itself failed.
package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/vidar_tv/internal/models"
)

// ChannelStore reads channels and lineups.
type ChannelStore struct {
	db *gorm.DB
}

// NewChannelStore creates a store over the given connection.
func NewChannelStore(db *gorm.DB) *ChannelStore {
	return &ChannelStore{db: db}
}

// GetChannel fetches a channel by id.
func (s *ChannelStore) GetChannel(ctx context.Context, id string) (*models.Channel, error) {
	var channel models.Channel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&channel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get channel %s: %w", id, err)
	}
	return &channel, nil
}

// GetChannelByNumber fetches a channel by its tuning number.
func (s *ChannelStore) GetChannelByNumber(ctx context.Context, number int) (*models.Channel, error) {
	var channel models.Channel
	err := s.db.WithContext(ctx).Where("number = ?", number).First(&channel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get channel number %d: %w", number, err)
	}
	return &channel, nil
}

// ListChannels returns all non-stealth channels in tuning order.
func (s *ChannelStore) ListChannels(ctx context.Context) ([]models.Channel, error) {
	var channels []models.Channel
	err := s.db.WithContext(ctx).
		Where("stealth = ?", false).
		Order("number ASC").
		Find(&channels).Error
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	return channels, nil
}

// LoadLineup returns the channel's programs in lineup order.
func (s *ChannelStore) LoadLineup(ctx context.Context, channelID string) ([]models.Program, error) {
	var programs []models.Program
	err := s.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("position ASC").
		Find(&programs).Error
	if err != nil {
		return nil, fmt.Errorf("load lineup for channel %s: %w", channelID, err)
	}
	return programs, nil
}

// LoadChannelAndLineup fetches a channel together with its lineup, used when
// following redirects. A missing channel yields (nil, nil, nil).
func (s *ChannelStore) LoadChannelAndLineup(ctx context.Context, id string) (*models.Channel, []models.Program, error) {
	channel, err := s.GetChannel(ctx, id)
	if err != nil || channel == nil {
		return nil, nil, err
	}

	programs, err := s.LoadLineup(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return channel, programs, nil
}
