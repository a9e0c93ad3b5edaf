package streak

import (
	"context"
	"time"

	"github.com/alem-hub/streak-engine/internal/domain/microtask"
	"github.com/alem-hub/streak-engine/internal/domain/shared"
)

// LedgerRepository определяет хранилище журналов.
type LedgerRepository interface {
	// Get возвращает журнал или shared.ErrLedgerNotFound.
	Get(ctx context.Context, userID shared.UserID) (*Ledger, error)

	// Save создаёт или обновляет журнал.
	Save(ctx context.Context, ledger *Ledger) error

	// ListUserIDs возвращает ID всех пользователей с журналом.
	ListUserIDs(ctx context.Context) ([]shared.UserID, error)
}

// GraceRepository определяет хранилище недельных пропусков.
type GraceRepository interface {
	// Get возвращает состояние или shared.ErrGraceNotFound.
	Get(ctx context.Context, userID shared.UserID) (*GraceState, error)

	// Save создаёт или обновляет состояние.
	Save(ctx context.Context, state *GraceState) error

	// ResetAll снимает флаг у всех пользователей и возвращает число
	// изменённых записей. Повторный вызов возвращает 0.
	ResetAll(ctx context.Context, now time.Time) (int64, error)

	// CountUsed возвращает число пользователей с использованным правом.
	CountUsed(ctx context.Context) (int64, error)
}

// Repositories - набор репозиториев внутри одной единицы работы.
type Repositories interface {
	Ledgers() LedgerRepository
	Grace() GraceRepository
	MicroTasks() microtask.Repository
}

// Store - хранилище с атомарной единицей работы.
//
// Atomic выполняет fn так, что все записи внутри либо сохраняются целиком,
// либо не сохраняются вовсе. Записи одного пользователя сериализуются:
// fn для userID не пересекается с другими Atomic для того же userID.
// Пустой userID означает операцию без привязки к пользователю.
type Store interface {
	Repositories
	Atomic(ctx context.Context, userID shared.UserID, fn func(ctx context.Context, repos Repositories) error) error
}
