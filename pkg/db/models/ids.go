package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ids are assigned client-side so sqlite-backed tests and postgres behave the same.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

func (p *Product) BeforeCreate(*gorm.DB) error       { ensureID(&p.ID); return nil }
func (s *Seller) BeforeCreate(*gorm.DB) error        { ensureID(&s.ID); return nil }
func (u *User) BeforeCreate(*gorm.DB) error          { ensureID(&u.ID); return nil }
func (c *Cart) BeforeCreate(*gorm.DB) error          { ensureID(&c.ID); return nil }
func (c *CartEntry) BeforeCreate(*gorm.DB) error     { ensureID(&c.ID); return nil }
func (o *Order) BeforeCreate(*gorm.DB) error         { ensureID(&o.ID); return nil }
func (l *OrderLineItem) BeforeCreate(*gorm.DB) error { ensureID(&l.ID); return nil }
func (p *Payment) BeforeCreate(*gorm.DB) error       { ensureID(&p.ID); return nil }
func (e *OutboxEvent) BeforeCreate(*gorm.DB) error   { ensureID(&e.ID); return nil }
func (d *OutboxDLQ) BeforeCreate(*gorm.DB) error     { ensureID(&d.ID); return nil }
