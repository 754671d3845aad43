// Package api provides the REST, websocket and gRPC health surface of the center.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/torantis/torenms/log"
	"github.com/torantis/torenms/metric"
	"github.com/torantis/torenms/store"
	"github.com/torantis/torenms/store/model"
	"github.com/torantis/torenms/svc"
)

type (
	// AccountProvider signs users up and in.
	AccountProvider interface {
		SignUp(ctx context.Context, email, name, password string) (*model.User, error)
		SignIn(ctx context.Context, email, password string) (*model.User, string, error)
		User(ctx context.Context, email string) (*model.User, error)
		Users(ctx context.Context) ([]*model.User, error)
	}

	// FeedProvider lists the history and notification feeds.
	FeedProvider interface {
		History(ctx context.Context, p svc.Page) ([]*model.HistoryEntry, string, error)
		Notifications(ctx context.Context, p svc.Page) ([]*model.Notification, string, error)
	}

	// CommandDispatcher runs device commands.
	CommandDispatcher interface {
		Dispatch(ctx context.Context, sess svc.Session, cmd svc.Command, password string) (*svc.Result, error)
	}

	// TokenValidator validates a raw session token and returns its claims.
	TokenValidator func(ctx context.Context, token string) (interface{}, error)

	// Cfg is used to initialize an instance of API.
	Cfg struct {
		Log        log.Logger
		Ctrl       *svc.Ctrl
		Metric     *metric.Metric
		PortRPC    uint32
		PortREST   uint32
		Retry      time.Duration
		Store      store.Gateway
		State      svc.StateReader
		Sessions   *svc.SessionStore
		Accounts   AccountProvider
		Feeds      FeedProvider
		Dispatcher CommandDispatcher
		Validate   TokenValidator
		Check      func() error
		DeviceID   string
	}

	// API includes both rest and grpc.
	API struct {
		log        log.Logger
		ctrl       *svc.Ctrl
		metric     *metric.Metric
		portRPC    uint32
		portREST   uint32
		retry      time.Duration
		store      store.Gateway
		state      svc.StateReader
		sessions   *svc.SessionStore
		accounts   AccountProvider
		feeds      FeedProvider
		dispatcher CommandDispatcher
		check      func() error
		deviceID   string
		router     *mux.Router
		jwt        *jwtmiddleware.JWTMiddleware
		upgrader   websocket.Upgrader
		rest       *http.Server
		rpc        *grpc.Server
		healthSrv  *health.Server
	}
)

// New creates and initializes a new instance of API.
func New(c *Cfg) *API {
	a := &API{
		log:        c.Log.With("component", "api"),
		ctrl:       c.Ctrl,
		metric:     c.Metric,
		portRPC:    c.PortRPC,
		portREST:   c.PortREST,
		retry:      c.Retry,
		store:      c.Store,
		state:      c.State,
		sessions:   c.Sessions,
		accounts:   c.Accounts,
		feeds:      c.Feeds,
		dispatcher: c.Dispatcher,
		check:      c.Check,
		deviceID:   c.DeviceID,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	a.jwt = jwtmiddleware.New(
		jwtmiddleware.ValidateToken(c.Validate),
		jwtmiddleware.WithErrorHandler(a.jwtError),
		jwtmiddleware.WithTokenExtractor(jwtmiddleware.MultiTokenExtractor(
			jwtmiddleware.AuthHeaderTokenExtractor,
			jwtmiddleware.ParameterTokenExtractor("token"),
		)),
	)
	a.router = mux.NewRouter()
	a.registerRoutes()

	a.rest = &http.Server{
		Handler: a.Handler(),
		Addr:    fmt.Sprintf(":%d", a.portREST),
	}
	a.healthSrv = health.NewServer()
	a.rpc = grpc.NewServer()
	healthpb.RegisterHealthServer(a.rpc, a.healthSrv)
	return a
}

// Run launches the rest and grpc servers and shuts them down when the center terminates.
func (a *API) Run() {
	a.log.With("event", log.EventComponentStarted).
		Infof("rpc port [%d] rest port [%d]", a.portRPC, a.portREST)

	defer func() {
		if r := recover(); r != nil {
			a.log.With("event", log.EventPanic).Errorf("Run(): %s", r)
			a.metric.ErrorCounter(log.EventPanic)
			a.terminate()
		}
	}()

	go a.listenToTermination()
	go a.serveRPC()
	a.serveHTTP()
}

func (a *API) listenToTermination() {
	<-a.ctrl.StopChan

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.rest.Shutdown(ctx); err != nil {
		a.log.Errorf("listenToTermination(): Shutdown() failed: %s", err)
	}
	a.rpc.GracefulStop()
	a.log.With("event", log.EventComponentShutdown).Info()
	_ = a.log.Flush()
}

func (a *API) terminate() {
	a.ctrl.Terminate()
}

// Handler returns the router wrapped with CORS.
func (a *API) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
	})
	return c.Handler(a.router)
}

func (a *API) registerRoutes() {
	public := []func(next http.HandlerFunc, name string) http.HandlerFunc{
		a.requestLogger,
		a.metric.TimeTracker,
	}
	private := []func(next http.HandlerFunc, name string) http.HandlerFunc{
		a.withSession,
		a.maintenance,
		a.authenticate,
		a.requestLogger,
		a.metric.TimeTracker,
	}

	a.registerRoute(http.MethodGet, "/health", a.health)
	a.registerRoute(http.MethodGet, "/metrics", a.metric.HandlerHTTP())

	a.registerRoute(http.MethodPost, "/v1/signup", a.signUp, public...)
	a.registerRoute(http.MethodPost, "/v1/signin", a.signIn, public...)
	a.registerRoute(http.MethodGet, "/v1/app", a.getApp, public...)

	a.registerRoute(http.MethodGet, "/v1/device", a.getDevice, private...)
	a.registerRoute(http.MethodPost, "/v1/device/commands", a.postCommand, private...)
	a.registerRoute(http.MethodGet, "/v1/device/stream", a.stream, private...)
	a.registerRoute(http.MethodGet, "/v1/history", a.getHistory, private...)
	a.registerRoute(http.MethodGet, "/v1/notifications", a.getNotifications, private...)
	a.registerRoute(http.MethodGet, "/v1/users", a.getUsers, private...)
}

func (a *API) serveHTTP() {
	if err := a.rest.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		a.log.Errorf("serveHTTP(): ListenAndServe() failed: %s", err)
		a.terminate()
	}
}
