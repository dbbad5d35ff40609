package system

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/KevinKickass/OpenEnergyCore/internal/api/rest"
	"github.com/KevinKickass/OpenEnergyCore/internal/api/websocket"
	"github.com/KevinKickass/OpenEnergyCore/internal/auth"
	"github.com/KevinKickass/OpenEnergyCore/internal/bridge"
	"github.com/KevinKickass/OpenEnergyCore/internal/component"
	"github.com/KevinKickass/OpenEnergyCore/internal/config"
	"github.com/KevinKickass/OpenEnergyCore/internal/controller"
	"github.com/KevinKickass/OpenEnergyCore/internal/cycle"
	"github.com/KevinKickass/OpenEnergyCore/internal/devices"
	"github.com/KevinKickass/OpenEnergyCore/internal/drivers/battery"
	"github.com/KevinKickass/OpenEnergyCore/internal/interfaces"
	"github.com/KevinKickass/OpenEnergyCore/internal/modbus"
	"github.com/KevinKickass/OpenEnergyCore/internal/scheduler"
	"github.com/KevinKickass/OpenEnergyCore/internal/storage"
)

// LifecycleManager owns the runtime: bridges, components, the cycle executor
// and the operational servers.
type LifecycleManager struct {
	config     *config.Config
	configPath string
	storage    *storage.PostgresClient
	logger     *zap.Logger

	registry      *component.Registry
	bridges       *bridge.Registry
	loader        *devices.ProfileLoader
	deviceManager *devices.Manager
	dispatcher    *cycle.Dispatcher
	scheduler     *scheduler.FixedOrder
	executor      *cycle.Executor

	jwtHandler *auth.JWTHandler
	wsHub      *websocket.Hub
	restServer *rest.Server
	grpcServer *grpc.Server
	health     *health.Server
	cancel     context.CancelFunc

	hookMu sync.Mutex
	hooked map[string]component.Component

	reloadMu sync.Mutex

	stateMu      sync.RWMutex
	currentState SystemState
	lastError    error

	listenersMu     sync.RWMutex
	statusListeners []chan SystemStatus

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewLifecycleManager builds the runtime from cfg. configPath is re-read on
// Reload; store may be nil.
func NewLifecycleManager(
	cfg *config.Config,
	configPath string,
	store *storage.PostgresClient,
	logger *zap.Logger,
) (*LifecycleManager, error) {
	loader, err := devices.NewProfileLoader(cfg.Devices.SearchPaths)
	if err != nil {
		return nil, err
	}

	lm := &LifecycleManager{
		config:       cfg,
		configPath:   configPath,
		storage:      store,
		logger:       logger,
		registry:     component.NewRegistry(logger.Named("components")),
		bridges:      bridge.NewRegistry(),
		loader:       loader,
		dispatcher:   cycle.NewDispatcher(logger.Named("cycle"), cfg.Cycle.PhaseTimeout),
		hooked:       make(map[string]component.Component),
		currentState: StateStopped,
		shutdownChan: make(chan struct{}),
	}

	for _, bc := range cfg.Bridges {
		if err := lm.addBridge(bc); err != nil {
			return nil, fmt.Errorf("bridge %s: %w", bc.ID, err)
		}
	}
	lm.dispatcher.Subscribe("components", lm.registry, cycle.EventAfterProcessImage)

	lm.scheduler = scheduler.NewFixedOrder(lm.registry, cfg.Cycle.Order)
	lm.executor = cycle.NewExecutor(cycle.Config{
		CycleTime:    cfg.Cycle.CycleTime,
		PhaseTimeout: cfg.Cycle.PhaseTimeout,
	}, lm.dispatcher, lm.scheduler, logger.Named("cycle"))

	lm.deviceManager = devices.NewManager(devices.Env{
		Logger:   logger.Named("devices"),
		Bridges:  lm.bridges,
		Registry: lm.registry,
		Loader:   loader,
		Composer: devices.NewComposer(cfg.Devices.SearchPaths, logger.Named("composer")),
	})
	lm.deviceManager.RegisterFactory("battery", battery.Factory)
	lm.deviceManager.RegisterFactory("fixed_power", controller.FixedPowerFactory)

	lm.jwtHandler = auth.NewJWTHandler(cfg.Auth.GetJWTSecret(), cfg.Auth.Issuer, cfg.Auth.AccessTokenTTL)
	lm.wsHub = websocket.NewHub(logger.Named("websocket"), lm.jwtHandler)
	lm.executor.OnOverrun(func(elapsed time.Duration) {
		stats := lm.executor.Stats()
		lm.wsHub.Broadcast(websocket.NewCycleOverrunMessage(elapsed, stats.CycleTime, stats.Overruns))
	})

	return lm, nil
}

func (lm *LifecycleManager) addBridge(bc config.BridgeConfig) error {
	transport, err := modbus.NewTransport(modbus.TransportConfig{
		Protocol: bc.Protocol,
		Address:  bc.Address,
		Timeout:  bc.Timeout,
		BaudRate: bc.BaudRate,
		DataBits: bc.DataBits,
		StopBits: bc.StopBits,
		Parity:   bc.Parity,
	}, lm.logger.Named("modbus"))
	if err != nil {
		return err
	}

	worker := bridge.NewWorker(bridge.Config{
		ID:              bc.ID,
		InvalidateAfter: bc.InvalidateAfter,
		OpenRetries:     bc.OpenRetries,
	}, transport, lm.logger.Named("bridge"))
	if err := lm.bridges.Add(worker); err != nil {
		return err
	}
	lm.dispatcher.Subscribe(bridgeService(bc.ID), worker, cycle.EventBeforeProcessImage, cycle.EventExecuteWrite)
	return nil
}

// Start opens the bridges, activates the configured components and starts
// the cycle and the servers.
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting OpenEnergyCore")

	lm.setState(StateInitializing)

	runCtx, cancel := context.WithCancel(context.Background())
	lm.cancel = cancel
	go lm.wsHub.Run(runCtx)

	if err := lm.bridges.ActivateAll(ctx); err != nil {
		lm.setError(fmt.Errorf("failed to start bridges: %w", err))
		return err
	}

	if err := lm.applyComponents(ctx, lm.config.Components); err != nil {
		// configuration errors keep single components inactive
		lm.logger.Warn("Some components were not activated", zap.Error(err))
	}

	if err := lm.executor.Activate(runCtx); err != nil {
		lm.setError(fmt.Errorf("failed to start cycle: %w", err))
		return err
	}

	if err := lm.startGRPCServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start gRPC: %w", err))
		return err
	}
	go lm.watchHealth(runCtx, lm.config.Cycle.CycleTime)

	lm.restServer = rest.NewServer(lm.config, lm, lm.logger.Named("rest"), lm.wsHub, lm.jwtHandler)
	if err := lm.restServer.Start(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	lm.setState(StateRunning)

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Int("bridges", len(lm.bridges.List())),
		zap.Int("components", lm.registry.Len()),
		zap.Duration("cycle_time", lm.config.Cycle.CycleTime))

	return nil
}

// applyComponents merges stored configurations and applies the result.
func (lm *LifecycleManager) applyComponents(ctx context.Context, file []config.ComponentConfig) error {
	cfgs := file
	if lm.storage != nil {
		stored, err := lm.storage.LoadComponentConfigs(ctx)
		if err != nil {
			lm.logger.Warn("Failed to load components from database", zap.Error(err))
		} else {
			lm.logger.Info("Loaded components from database", zap.Int("count", len(stored)))
			cfgs = storage.MergeComponentConfigs(file, stored)
		}
	}

	err := lm.deviceManager.Apply(ctx, cfgs)
	lm.hookComponents()
	return err
}

// hookComponents forwards level changes and state transitions of newly
// created components to the websocket hub.
func (lm *LifecycleManager) hookComponents() {
	lm.hookMu.Lock()
	defer lm.hookMu.Unlock()

	active := make(map[string]bool)
	for _, c := range lm.registry.List() {
		id := c.ID()
		active[id] = true
		if lm.hooked[id] == c {
			continue
		}
		lm.hooked[id] = c

		component.OnLevelChange(c, func(previous, current component.Level) {
			lm.wsHub.Broadcast(websocket.NewComponentLevelMessage(id, current.String(), previous.String()))
		})
		if b, ok := c.(*battery.Battery); ok {
			b.OnStateChange(func(from, to battery.State) {
				lm.wsHub.Broadcast(websocket.NewStateTransitionMessage(id, to.String(), from.String()))
			})
		}
	}
	for id := range lm.hooked {
		if !active[id] {
			delete(lm.hooked, id)
		}
	}
}

// Reload re-reads the configuration file and applies component changes.
// Bridge and server changes need a restart.
func (lm *LifecycleManager) Reload(ctx context.Context) error {
	lm.reloadMu.Lock()
	defer lm.reloadMu.Unlock()

	lm.stateMu.RLock()
	state := lm.currentState
	lm.stateMu.RUnlock()
	if state != StateRunning {
		return fmt.Errorf("cannot reload: system is %s", state)
	}

	cfg := lm.config
	if lm.configPath != "" {
		loaded, err := config.Load(lm.configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if !reflect.DeepEqual(loaded.Bridges, cfg.Bridges) {
			lm.logger.Warn("Bridge configuration changed; restart required to apply")
			loaded.Bridges = cfg.Bridges
		}
		cfg = loaded
	}

	lm.setState(StateReloading)
	lm.logger.Info("Reloading components", zap.Int("configured", len(cfg.Components)))

	lm.scheduler.SetOrder(cfg.Cycle.Order)
	if err := lm.applyComponents(ctx, cfg.Components); err != nil {
		lm.logger.Warn("Some components were not activated", zap.Error(err))
	}

	lm.stateMu.Lock()
	lm.config = cfg
	lm.stateMu.Unlock()

	lm.setState(StateRunning)
	return nil
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.setState(StateStopping)

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)
		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once Shutdown completed.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	// the cycle stops first so no phase runs against closed bridges
	lm.executor.Deactivate()
	if lm.health != nil {
		lm.health.Shutdown()
	}

	var wg sync.WaitGroup
	errChan := make(chan error, 3)

	// 1. Components, then bridges
	wg.Add(1)
	go func() {
		defer wg.Done()
		lm.deviceManager.DeactivateAll()
		if err := lm.bridges.DeactivateAll(); err != nil {
			errChan <- fmt.Errorf("bridge stop failed: %w", err)
		}
	}()

	// 2. REST API Server graceful shutdown
	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	// 3. gRPC Server graceful stop
	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.logger.Info("Stopping gRPC server")
			lm.grpcServer.GracefulStop()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	defer func() {
		if lm.cancel != nil {
			lm.cancel()
		}
	}()

	select {
	case <-done:
		close(errChan)
		var errs []error
		for err := range errChan {
			errs = append(errs, err)
		}
		lm.logger.Info("Graceful shutdown completed")
		return errors.Join(errs...)
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		if lm.grpcServer != nil {
			lm.grpcServer.Stop()
		}
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Unexpected system state transition", zap.Error(err))
	}
	lm.currentState = state
	if state != StateError {
		lm.lastError = nil
	}
	lm.stateMu.Unlock()

	lm.broadcastStatus()
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System error", zap.Error(err))
	lm.stateMu.Lock()
	lm.currentState = StateError
	lm.lastError = err
	lm.stateMu.Unlock()

	lm.broadcastStatus()
}

// State returns the current system state.
func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	status := lm.getStatusInternal()

	workers := lm.bridges.List()
	connected := 0
	for _, w := range workers {
		if w.Stats().Connected {
			connected++
		}
	}

	active := 0
	for _, s := range lm.deviceManager.Status() {
		if s.Active {
			active++
		}
	}

	return interfaces.SystemStatus{
		State:            status.State.String(),
		Error:            status.Error,
		ComponentCount:   lm.registry.Len(),
		ActiveComponents: active,
		BridgeCount:      len(workers),
		ConnectedBridges: connected,
		Cycle:            lm.executor.Stats(),
	}
}

// getStatusInternal returns typed status (for internal use)
func (lm *LifecycleManager) getStatusInternal() SystemStatus {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()

	s := SystemStatus{
		State:     lm.currentState,
		Timestamp: time.Now().Unix(),
	}
	if lm.lastError != nil {
		s.Error = lm.lastError.Error()
	}
	return s
}

func (lm *LifecycleManager) broadcastStatus() {
	status := lm.getStatusInternal()
	lm.wsHub.Broadcast(websocket.NewSystemStatusMessage(status))

	lm.listenersMu.RLock()
	defer lm.listenersMu.RUnlock()

	for _, listener := range lm.statusListeners {
		select {
		case listener <- status:
		default:
			// Channel full, skip
		}
	}
}

// SubscribeStatus subscribes to status updates
func (lm *LifecycleManager) SubscribeStatus() chan SystemStatus {
	ch := make(chan SystemStatus, 10)

	lm.listenersMu.Lock()
	lm.statusListeners = append(lm.statusListeners, ch)
	lm.listenersMu.Unlock()

	return ch
}

// UnsubscribeStatus unsubscribes from status updates
func (lm *LifecycleManager) UnsubscribeStatus(ch chan SystemStatus) {
	lm.listenersMu.Lock()
	defer lm.listenersMu.Unlock()

	for i, listener := range lm.statusListeners {
		if listener == ch {
			lm.statusListeners = append(lm.statusListeners[:i], lm.statusListeners[i+1:]...)
			close(ch)
			break
		}
	}
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.config
}

// Store returns the component store, nil without a database.
func (lm *LifecycleManager) Store() interfaces.ComponentStore {
	if lm.storage == nil {
		return nil
	}
	return lm.storage
}

func (lm *LifecycleManager) Components() *component.Registry { return lm.registry }

func (lm *LifecycleManager) Bridges() *bridge.Registry { return lm.bridges }

// DeviceManager returns the device manager
func (lm *LifecycleManager) DeviceManager() *devices.Manager { return lm.deviceManager }

func (lm *LifecycleManager) ProfileLoader() *devices.ProfileLoader { return lm.loader }

func (lm *LifecycleManager) CycleStats() cycle.Stats { return lm.executor.Stats() }
