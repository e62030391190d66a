package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/postpilothq/postpilot/internal/models"
	"github.com/postpilothq/postpilot/internal/repository"
	"github.com/postpilothq/postpilot/internal/service"
)

// TokenRefreshJob proactively refreshes access tokens that expire
// soon, so publishes rarely pay the refresh cost inline.
type TokenRefreshJob struct {
	pc repository.PlatformConnectionRepository
	cs service.ConnectionService
}

func NewTokenRefreshJob(pc repository.PlatformConnectionRepository, cs service.ConnectionService) *TokenRefreshJob {
	return &TokenRefreshJob{
		pc: pc,
		cs: cs,
	}
}

func (c *TokenRefreshJob) RefreshTokens() {
	ctx := context.Background()

	currentTime := time.Now()
	timeIn30Minutes := currentTime.Add(30 * time.Minute)

	connections, err := c.pc.ListExpiring(ctx, currentTime, timeIn30Minutes)
	if err != nil {
		slog.Info(err.Error())
		return
	}

	var wg sync.WaitGroup

	concurrencyLimit := 10
	semaphore := make(chan struct{}, concurrencyLimit)

	for _, conn := range connections {

		wg.Add(1)
		semaphore <- struct{}{}

		go func(conn *models.PlatformConnection) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if err := c.cs.Refresh(ctx, conn); err != nil {
				slog.Info(fmt.Sprintf("Unable to refresh tokens for %s: %v", conn.Platform, err))
			}
		}(conn)
	}

	wg.Wait()
}
