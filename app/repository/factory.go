package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Repositories bundles all repository instances
type Repositories struct {
	Tenant     TenantRepository
	Ticket     TicketRepository
	Message    MessageRepository
	Queue      QueueRepository
	Agent      AgentRepository
	Assignment AssignmentRepository
	SLA        SLARepository
}

// NewRepositories creates all repositories on a shared database handle
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Tenant:     NewTenantRepository(db),
		Ticket:     NewTicketRepository(db),
		Message:    NewMessageRepository(db),
		Queue:      NewQueueRepository(db),
		Agent:      NewAgentRepository(db),
		Assignment: NewAssignmentRepository(db),
		SLA:        NewSLARepository(db),
	}
}

// Factory manages repository instances and ensures they are singletons
type Factory struct {
	db    *gorm.DB
	repos *Repositories
	once  sync.Once
}

// NewFactory creates a new repository factory
func NewFactory(db *gorm.DB) *Factory {
	return &Factory{
		db: db,
	}
}

// GetRepositories returns a singleton instance of all repositories
func (f *Factory) GetRepositories() *Repositories {
	f.once.Do(func() {
		f.repos = NewRepositories(f.db)
	})
	return f.repos
}

// Global factory instance
var globalFactory *Factory
var factoryMu sync.Mutex

// InitializeFactory initializes the global repository factory
func InitializeFactory(db *gorm.DB) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	globalFactory = NewFactory(db)
}

// GetGlobalFactory returns the global repository factory instance
func GetGlobalFactory() *Factory {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if globalFactory == nil {
		panic("Repository factory not initialized. Call InitializeFactory first.")
	}
	return globalFactory
}

// GetGlobalRepositories returns the global repositories instance
func GetGlobalRepositories() *Repositories {
	return GetGlobalFactory().GetRepositories()
}
