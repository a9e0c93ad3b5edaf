package microtask

import (
	"context"
	"time"

	"github.com/alem-hub/streak-engine/internal/domain/shared"
)

// Repository определяет хранилище микро-задач.
type Repository interface {
	// Get возвращает задачу по ID или shared.ErrMicroTaskNotFound.
	Get(ctx context.Context, id string) (*MicroTask, error)

	// Save создаёт или обновляет задачу.
	Save(ctx context.Context, task *MicroTask) error

	// ListByUser возвращает задачи пользователя, новые первыми.
	ListByUser(ctx context.Context, userID shared.UserID) ([]*MicroTask, error)

	// FindByClass возвращает задачу пользователя для занятия
	// или shared.ErrMicroTaskNotFound.
	FindByClass(ctx context.Context, userID shared.UserID, classRef string) (*MicroTask, error)

	// ListCompletedSince возвращает выполненные и ещё не потраченные задачи
	// с completedAt >= since.
	ListCompletedSince(ctx context.Context, userID shared.UserID, since time.Time) ([]*MicroTask, error)
}
