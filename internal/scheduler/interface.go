package scheduler

import (
	"context"

	"github.com/mattjoyce/switchboard/internal/protocol"
	"github.com/mattjoyce/switchboard/internal/state"
)

//go:generate mockgen -destination=mocks/mock_source.go -package=mocks github.com/mattjoyce/switchboard/internal/scheduler Source,CommandSender

// Source enumerates the accounts and conversations the scheduler drives.
type Source interface {
	ListEnabledAccounts(ctx context.Context) ([]state.Account, error)
	ListRunningConversations(ctx context.Context, accountKey string) ([]state.Conversation, error)
	GetConversation(ctx context.Context, accountKey, conversationKey string) (*state.Conversation, error)
}

// CommandSender delivers a command to a worker's control inbox.
type CommandSender interface {
	Send(ctx context.Context, cmd protocol.Command) error
}

// WorkerResolver maps a conversation type to the name of the worker that
// owns conversations of that type.
type WorkerResolver interface {
	WorkerFor(conversationType string) (string, error)
}
