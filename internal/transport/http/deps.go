// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"

	"github.com/Fan4Metal/emby-webhooks-app/internal/domain"
	"github.com/Fan4Metal/emby-webhooks-app/internal/ingest"
)

type Ingester interface {
	Ingest(ctx context.Context, raw map[string]any) (ingest.Result, error)
}

type ActivityLog interface {
	ListRecent(ctx context.Context, limit int) ([]domain.LogEntry, error)
	Clear(ctx context.Context) (domain.ClearResult, error)
	Sessions(ctx context.Context) ([]domain.SessionState, error)
	MaxRecent() int
}

type HealthChecker interface {
	Check(ctx context.Context) error
}
