package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/predikto/predikto/internal/api"
	"github.com/predikto/predikto/internal/event"
	"github.com/predikto/predikto/internal/flow"
	"github.com/predikto/predikto/internal/leaderboard"
	"github.com/predikto/predikto/internal/post"
	"github.com/predikto/predikto/internal/score"
	"github.com/predikto/predikto/internal/team"
	"github.com/predikto/predikto/internal/telemetry"
	"github.com/predikto/predikto/internal/template"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	NodeID int64

	Redis struct {
		Flow struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Leaderboard struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Addr string
		User string
		Pass string
		Name string
	}

	Flow struct {
		SweepInterval time.Duration
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			flow        redis.UniversalClient
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
		}

		postgres *pgxpool.Pool
		ids      *snowflake.Node
	}

	store struct {
		post     *post.Store
		template *template.Store
	}

	service struct {
		flow        *flow.Service
		score       *score.Service
		leaderboard *leaderboard.Service
		team        *team.Service
	}

	http        *http.Server
	sweeperDone chan struct{}
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c, sweeperDone: make(chan struct{})}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	var err error
	s.infra.ids, err = snowflake.NewNode(s.c.NodeID)
	if err != nil {
		return fmt.Errorf("snowflake: %w", err)
	}

	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.flow, err = connect(s.c.Redis.Flow.Addrs, s.c.Redis.Flow.Pass)
	if err != nil {
		return fmt.Errorf("flow: %w", err)
	}

	s.infra.redis.leaderboard, err = connect(s.c.Redis.Leaderboard.Addrs, s.c.Redis.Leaderboard.Pass)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s",
		s.c.Postgres.User, s.c.Postgres.Pass, s.c.Postgres.Addr, s.c.Postgres.Name,
	))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		return err
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) initService() {
	s.store.post = post.NewStore(post.Config{
		DB:  s.infra.postgres,
		IDs: s.infra.ids,
	})

	s.store.template = template.NewStore(template.Config{
		DB:  s.infra.postgres,
		IDs: s.infra.ids,
	})

	s.service.team = team.NewService(team.Config{
		DB:  s.infra.postgres,
		IDs: s.infra.ids,
	})

	s.service.flow = flow.NewService(flow.Config{
		Redis:     s.infra.redis.flow,
		Prefix:    s.c.Redis.Flow.Prefix,
		Templates: s.store.template,
		Posts:     s.store.post,
	})

	s.service.score = score.NewService(score.Config{
		EventBus: s.eb,
		Posts:    s.store.post,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis.leaderboard,
		Prefix:   s.c.Redis.Leaderboard.Prefix,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	api.New(api.Config{
		Engine:       e,
		EventBus:     s.eb,
		Flow:         s.service.flow,
		Score:        s.service.score,
		Leaderboard:  s.service.leaderboard,
		Team:         s.service.team,
		Template:     s.store.template,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		s.runSweeper(ctx)
		return nil
	})

	err := eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

// runSweeper periodically abandons flows that outlived their expiry. Running
// it on every replica is fine; claims are serialized per token.
func (s *Server) runSweeper(ctx context.Context) {
	interval := s.c.Flow.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-s.sweeperDone:
			return
		case now := <-t.C:
			if _, err := s.service.flow.SweepExpired(ctx, now); err != nil {
				slog.ErrorContext(ctx, "server: sweep expired flows failed", "error", err)
			}
		}
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	close(s.sweeperDone)
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()

	slog.InfoContext(ctx, "server: shutdown completed")
}
