package jobhost_test

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/flockwork/flockwork/pkg/config"
	"github.com/flockwork/flockwork/pkg/jobhost"
	"github.com/flockwork/flockwork/pkg/observability/logger"
	"github.com/flockwork/flockwork/pkg/store"
	"github.com/flockwork/flockwork/pkg/testutil"
)

func startPostgres(t *testing.T, ctx context.Context) string {
	t.Helper()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:17-alpine",
		tcpostgres.WithDatabase("flockwork"),
		tcpostgres.WithUsername("flockwork"),
		tcpostgres.WithPassword("flockwork"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	return connStr
}

func TestJobStore_Integration(t *testing.T) {
	testutil.RequireIntegration(t)

	ctx := context.Background()
	connStr := startPostgres(t, ctx)

	log, err := logger.NewZapLogger(logger.Config{Level: logger.InfoLevel, Format: logger.JSONFormat})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	s, err := store.NewSQL(config.SQLConfig{
		Driver:          "postgres",
		URL:             connStr,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		QueryTimeout:    10 * time.Second,
	}, log)
	if err != nil {
		t.Fatalf("new sql store: %v", err)
	}
	defer s.DB.Close()

	if err := store.EnsureSchema(ctx, s.DB, s.Dialect); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	jobs, err := jobhost.NewSQLStore(s.DB, s.Dialect, log)
	if err != nil {
		t.Fatalf("new job store: %v", err)
	}

	backdate := func(t *testing.T, id int64, to time.Time) {
		t.Helper()
		_, err := s.DB.ExecContext(ctx,
			s.Dialect.Rebind("UPDATE "+store.JobsTable+" SET heartbeat_at = ? WHERE id = ?"), to, id)
		if err != nil {
			t.Fatalf("backdate job %d: %v", id, err)
		}
	}

	t.Run("ClaimCycle", func(t *testing.T) {
		first, err := jobs.Enqueue(ctx, 11, []byte("payload-1"))
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		second, err := jobs.Enqueue(ctx, 11, nil)
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}

		queued, err := jobs.ListQueued(ctx, 11, 10)
		if err != nil {
			t.Fatalf("list queued: %v", err)
		}
		if len(queued) != 2 || queued[0].ID != first || queued[1].ID != second {
			t.Fatalf("queued = %+v, want ids [%d %d]", queued, first, second)
		}
		if string(queued[0].Progress) != "payload-1" {
			t.Fatalf("queued[0].Progress = %q", queued[0].Progress)
		}

		now := time.Now().UTC()
		claimed, err := jobs.Claim(ctx, first, queued[0].Version, "replica-a", now)
		if err != nil || !claimed {
			t.Fatalf("claim = (%v, %v), want (true, nil)", claimed, err)
		}
		if claimed, _ := jobs.Claim(ctx, first, queued[0].Version, "replica-b", now); claimed {
			t.Fatal("second claim with stale version applied")
		}

		if applied, _ := jobs.Heartbeat(ctx, first, "replica-b", now, nil); applied {
			t.Fatal("foreign heartbeat applied")
		}
		applied, err := jobs.Heartbeat(ctx, first, "replica-a", now.Add(time.Second), []byte("half"))
		if err != nil || !applied {
			t.Fatalf("heartbeat = (%v, %v), want (true, nil)", applied, err)
		}

		applied, err = jobs.Complete(ctx, first, "replica-a", jobhost.StatusCompleted, now.Add(2*time.Second), []byte("done"))
		if err != nil || !applied {
			t.Fatalf("complete = (%v, %v), want (true, nil)", applied, err)
		}

		job, err := jobs.Get(ctx, first)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if job.Status != jobhost.StatusCompleted || job.Attempts != 1 || string(job.Progress) != "done" {
			t.Fatalf("completed job = %+v", job)
		}

		queued, err = jobs.ListQueued(ctx, 11, 10)
		if err != nil {
			t.Fatalf("list queued: %v", err)
		}
		if len(queued) != 1 || queued[0].ID != second {
			t.Fatalf("queued after completion = %+v, want only %d", queued, second)
		}
	})

	t.Run("ReclaimCycle", func(t *testing.T) {
		id, err := jobs.Enqueue(ctx, 12, nil)
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if claimed, _ := jobs.Claim(ctx, id, 0, "dying-replica", time.Now().UTC()); !claimed {
			t.Fatal("initial claim missed")
		}
		backdate(t, id, time.Now().UTC().Add(-time.Hour))

		requeued, failed, err := jobs.ReclaimStalled(ctx, 12, time.Now().UTC().Add(-5*time.Minute), 5)
		if err != nil || requeued != 1 || failed != 0 {
			t.Fatalf("reclaim = (%d, %d, %v), want (1, 0, nil)", requeued, failed, err)
		}

		job, _ := jobs.Get(ctx, id)
		if job.Status != jobhost.StatusQueued || job.Worker != "" || job.Attempts != 1 {
			t.Fatalf("requeued job = %+v", job)
		}

		// Claim it back, run it out of attempts, and let the sweep fail it.
		if claimed, _ := jobs.Claim(ctx, id, job.Version, "next-replica", time.Now().UTC()); !claimed {
			t.Fatal("reclaim-era claim missed")
		}
		if _, err := s.DB.ExecContext(ctx,
			s.Dialect.Rebind("UPDATE "+store.JobsTable+" SET attempts = ? WHERE id = ?"), 5, id); err != nil {
			t.Fatalf("set attempts: %v", err)
		}
		backdate(t, id, time.Now().UTC().Add(-time.Hour))

		requeued, failed, err = jobs.ReclaimStalled(ctx, 12, time.Now().UTC().Add(-5*time.Minute), 5)
		if err != nil || requeued != 0 || failed != 1 {
			t.Fatalf("reclaim = (%d, %d, %v), want (0, 1, nil)", requeued, failed, err)
		}
		job, _ = jobs.Get(ctx, id)
		if job.Status != jobhost.StatusFailed || job.Worker != "" {
			t.Fatalf("spent job = %+v", job)
		}
	})

	t.Run("CountAndRetention", func(t *testing.T) {
		keep, err := jobs.Enqueue(ctx, 13, nil)
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		done, err := jobs.Enqueue(ctx, 13, nil)
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if claimed, _ := jobs.Claim(ctx, done, 0, "replica-a", time.Now().UTC()); !claimed {
			t.Fatal("claim missed")
		}
		if applied, _ := jobs.Complete(ctx, done, "replica-a", jobhost.StatusCompleted, time.Now().UTC(), nil); !applied {
			t.Fatal("complete missed")
		}

		counts, err := jobs.CountByStatus(ctx)
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		var queued13, completed13 int64
		for _, c := range counts {
			if c.Queue == 13 && c.Status == jobhost.StatusQueued {
				queued13 = c.Count
			}
			if c.Queue == 13 && c.Status == jobhost.StatusCompleted {
				completed13 = c.Count
			}
		}
		if queued13 != 1 || completed13 != 1 {
			t.Fatalf("queue 13 census = %d queued %d completed, want 1 and 1", queued13, completed13)
		}

		backdate(t, done, time.Now().UTC().Add(-72*time.Hour))
		deleted, err := jobs.DeleteFinishedBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
		if err != nil {
			t.Fatalf("retention: %v", err)
		}
		if deleted < 1 {
			t.Fatalf("retention deleted %d rows, want at least the aged one", deleted)
		}
		if _, err := jobs.Get(ctx, done); err == nil {
			t.Fatal("aged terminal job still present")
		}
		if _, err := jobs.Get(ctx, keep); err != nil {
			t.Fatalf("queued job swept by retention: %v", err)
		}
	})

	t.Run("EngineOverPostgres", func(t *testing.T) {
		var ids []int64
		for i := 0; i < 3; i++ {
			id, err := jobs.Enqueue(ctx, 14, nil)
			if err != nil {
				t.Fatalf("enqueue: %v", err)
			}
			ids = append(ids, id)
		}

		handler := func(_ context.Context, exec *jobhost.Execution) error {
			exec.ReportProgress([]byte("ran"))
			return nil
		}
		engine, err := jobhost.NewEngine(jobs, handler, log, jobhost.EngineConfig{
			Queue:             14,
			Worker:            "integration-host",
			PollInterval:      50 * time.Millisecond,
			MaxRunning:        2,
			HeartbeatInterval: 100 * time.Millisecond,
			HeartbeatTimeout:  time.Minute,
		})
		if err != nil {
			t.Fatalf("new engine: %v", err)
		}
		if err := engine.Start(ctx); err != nil {
			t.Fatalf("start engine: %v", err)
		}
		defer engine.Stop(ctx)

		testutil.WaitUntil(t, 15*time.Second, func() bool {
			for _, id := range ids {
				job, err := jobs.Get(ctx, id)
				if err != nil || job.Status != jobhost.StatusCompleted {
					return false
				}
			}
			return true
		}, "engine drained the queue over postgres")

		job, _ := jobs.Get(ctx, ids[0])
		if job.Worker != "integration-host" || string(job.Progress) != "ran" {
			t.Fatalf("job after hosting = %+v", job)
		}
	})
}
