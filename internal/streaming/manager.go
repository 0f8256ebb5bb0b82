package streaming

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/worldstore/internal/chunk"
	"github.com/annel0/worldstore/internal/logging"
	"github.com/annel0/worldstore/internal/storage"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ErrReleased загрузка завершилась после снятия всего интереса, результат отброшен
	ErrReleased = errors.New("streaming: load discarded after release")
	// ErrStopped менеджер остановлен
	ErrStopped = errors.New("streaming: manager stopped")
	// ErrInUse чанк нельзя выгрузить, пока на него есть запросы
	ErrInUse = errors.New("streaming: chunk has active interest")
)

// Option настраивает менеджер при создании
type Option func(*Manager)

// WithGenerator задаёт генератор для отсутствующих чанков
func WithGenerator(g Generator) Option {
	return func(m *Manager) { m.generator = g }
}

// WithNotifier задаёт получателя событий жизненного цикла
func WithNotifier(n EntityNotifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithWorldLock задаёт блокировку мира, разделяемую с миграцией
func WithWorldLock(l *storage.WorldLock) Option {
	return func(m *Manager) { m.lock = l }
}

// WithMemorySampler добавляет замер памяти процесса к оценке рабочего набора
func WithMemorySampler(s MemorySampler) Option {
	return func(m *Manager) { m.sampler = s }
}

// WithRegisterer регистрирует метрики Prometheus
func WithRegisterer(r prometheus.Registerer) Option {
	return func(m *Manager) { m.registerer = r }
}

// Manager держит рабочий набор загруженных чанков.
//
// Гарантии:
//   - на ключ не больше одной загрузки одновременно;
//   - не больше MaxConcurrentLoads загрузок в полёте;
//   - запросы игроков всегда обслуживаются раньше предзагрузки.
type Manager struct {
	cfg        Config
	store      ChunkStore
	generator  Generator
	notifier   EntityNotifier
	lock       *storage.WorldLock
	sampler    MemorySampler
	registerer prometheus.Registerer
	metrics    *metrics
	logger     *logging.Logger

	mu           sync.Mutex
	cond         *sync.Cond
	slots        map[chunk.Key]*slot
	playerQueue  []chunk.Key
	preloadQueue []chunk.Key
	preloadCount int
	inFlight     int
	memBytes     int64
	started      bool
	stopped      bool

	ctx          context.Context
	cancel       context.CancelFunc
	evictSignal  chan struct{}
	shutdownChan chan struct{}
	wg           sync.WaitGroup

	counters counters
}

// counters накопительная статистика
type counters struct {
	requests        atomic.Uint64
	cacheHits       atomic.Uint64
	loadsLegacy     atomic.Uint64
	loadsEnhanced   atomic.Uint64
	loadsGenerated  atomic.Uint64
	failedLoads     atomic.Uint64
	discardedLoads  atomic.Uint64
	predictiveLoads atomic.Uint64
	evictions       atomic.Uint64
	saves           atomic.Uint64
	saveFailures    atomic.Uint64
}

// NewManager создаёт менеджер стриминга. Загрузчики запускаются в Start.
func NewManager(store ChunkStore, cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid streaming config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:          cfg,
		store:        store,
		notifier:     noopNotifier{},
		logger:       logging.GetStreamingLogger(),
		slots:        make(map[chunk.Key]*slot),
		ctx:          ctx,
		cancel:       cancel,
		evictSignal:  make(chan struct{}, 1),
		shutdownChan: make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	for _, opt := range opts {
		opt(m)
	}
	if m.registerer != nil {
		m.metrics = newMetrics(m, m.registerer)
	}
	return m, nil
}

// Config возвращает настройки менеджера
func (m *Manager) Config() Config {
	return m.cfg
}

// Start запускает пул загрузчиков и фоновую проверку давления памяти
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	for i := 0; i < m.cfg.MaxConcurrentLoads; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}

	m.wg.Add(1)
	go m.evictionLoop()

	if m.metrics != nil {
		m.wg.Add(1)
		go m.metrics.loop(m.shutdownChan, &m.wg)
	}

	m.logger.Info("streaming started: %d loaders, preload cache %d, memory budget %d bytes",
		m.cfg.MaxConcurrentLoads, m.cfg.PreloadCacheSize, m.cfg.MaxMemoryBytes)
}

// Stop останавливает загрузчики, сохраняет изменённые чанки и выгружает
// сохранённые. Незапущенные загрузки завершаются с ErrStopped.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true

	// Запросы, не взятые загрузчиками, отменяются
	var cancelled []*slot
	for _, key := range append(m.playerQueue, m.preloadQueue...) {
		s, ok := m.slots[key]
		if !ok || s.state != stateRequested {
			continue
		}
		delete(m.slots, key)
		if s.preload {
			m.preloadCount--
		}
		s.state = stateEvicted
		s.err = ErrStopped
		cancelled = append(cancelled, s)
	}
	m.playerQueue = nil
	m.preloadQueue = nil
	m.cond.Broadcast()
	m.mu.Unlock()

	for _, s := range cancelled {
		close(s.done)
		close(s.gone)
	}

	close(m.shutdownChan)
	m.wg.Wait()

	// Сохранённые чанки выгружаются с OnChunkUnloading, несохранённые остаются в памяти
	var result *multierror.Error
	unloaded := 0
	for _, s := range m.readySlots() {
		if err := m.flush(ctx, s); err != nil {
			result = multierror.Append(result, fmt.Errorf("flush %s: %w", s.key, err))
			continue
		}
		m.mu.Lock()
		retire := m.slots[s.key] == s && s.state == stateReady && s.announced && !s.chunk.IsDirty()
		if retire {
			s.state = stateUnloading
		}
		m.mu.Unlock()
		if retire {
			m.unloadAnnounced(s)
			unloaded++
		}
	}
	m.cancel()

	m.logger.Info("streaming stopped: %d chunks unloaded, %d left resident", unloaded, m.LoadedCount())
	return result.ErrorOrNil()
}

func (m *Manager) readySlots() []*slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*slot, 0, len(m.slots))
	for _, s := range m.slots {
		if s.state == stateReady {
			out = append(out, s)
		}
	}
	return out
}

// Request регистрирует интерес к чанку. Для готового чанка Handle.Wait возвращается сразу,
// иначе ставится загрузка (или запрос присоединяется к уже идущей).
func (m *Manager) Request(ctx context.Context, key chunk.Key) (*Handle, error) {
	m.mu.Lock()
	var s *slot
	for {
		if m.stopped {
			m.mu.Unlock()
			return nil, ErrStopped
		}
		s = m.slots[key]
		if s == nil || s.state != stateUnloading {
			break
		}
		// Слот выгружается: дожидаемся удаления и загружаем заново
		gone := s.gone
		m.mu.Unlock()
		select {
		case <-gone:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		m.mu.Lock()
	}

	m.counters.requests.Add(1)
	if s == nil {
		s = newSlot(key, false)
		m.slots[key] = s
		m.enqueueLocked(key, false)
	} else {
		if s.state == stateReady {
			m.counters.cacheHits.Add(1)
		}
		if s.preload {
			// Предзагруженный слот переходит к игроку
			s.preload = false
			m.preloadCount--
			if s.state == stateRequested {
				m.enqueueLocked(key, false)
			}
		}
	}
	s.interest++
	s.lastAccess = time.Now()
	m.mu.Unlock()

	return &Handle{m: m, s: s}, nil
}

// Load запрашивает чанк и ждёт его загрузки. Интерес остаётся за вызывающим до Release.
func (m *Manager) Load(ctx context.Context, key chunk.Key) (*chunk.Chunk, error) {
	h, err := m.Request(ctx, key)
	if err != nil {
		return nil, err
	}
	c, err := h.Wait(ctx)
	if err != nil {
		h.Release()
		return nil, err
	}
	return c, nil
}

// Release снимает один интерес к ключу. Чанк без интереса остаётся в памяти
// как тёплый кэш до вытеснения или Unload.
func (m *Manager) Release(key chunk.Key) {
	m.mu.Lock()
	s := m.slots[key]
	released := s != nil && s.interest > 0
	if released {
		s.interest--
		s.lastAccess = time.Now()
	}
	m.mu.Unlock()

	if released {
		m.signalPressure()
	}
}

func (m *Manager) releaseSlot(s *slot) {
	m.mu.Lock()
	released := m.slots[s.key] == s && s.interest > 0
	if released {
		s.interest--
		s.lastAccess = time.Now()
	}
	m.mu.Unlock()

	if released {
		m.signalPressure()
	}
}

// Get возвращает готовый чанк без регистрации интереса
func (m *Manager) Get(key chunk.Key) (*chunk.Chunk, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.slots[key]
	if s == nil || s.state != stateReady {
		return nil, false
	}
	s.lastAccess = time.Now()
	return s.chunk, true
}

// Unload сохраняет и выгружает чанк без интереса
func (m *Manager) Unload(ctx context.Context, key chunk.Key) error {
	m.mu.Lock()
	s := m.slots[key]
	if s == nil {
		m.mu.Unlock()
		return nil
	}
	if s.interest > 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInUse, key)
	}
	m.mu.Unlock()

	// Дожидаемся завершения загрузки, чтобы не выгрузить полузагруженный слот
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if s.err != nil {
		return nil
	}

	err := m.teardown(ctx, s)
	if errors.Is(err, errBusy) {
		return fmt.Errorf("%w: %s", ErrInUse, key)
	}
	return err
}

// LoadedCount возвращает число отслеживаемых слотов (включая загружающиеся)
func (m *Manager) LoadedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

func (m *Manager) enqueueLocked(key chunk.Key, preload bool) {
	if preload {
		m.preloadQueue = append(m.preloadQueue, key)
	} else {
		m.playerQueue = append(m.playerQueue, key)
	}
	m.cond.Signal()
}

// next блокирует загрузчик до появления работы. Очередь игроков всегда первая.
func (m *Manager) next() (*slot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		if m.stopped {
			return nil, false
		}

		var key chunk.Key
		switch {
		case len(m.playerQueue) > 0:
			key = m.playerQueue[0]
			m.playerQueue = m.playerQueue[1:]
		case len(m.preloadQueue) > 0:
			key = m.preloadQueue[0]
			m.preloadQueue = m.preloadQueue[1:]
		default:
			m.cond.Wait()
			continue
		}

		// Ключ мог попасть в обе очереди или уже загружаться
		s := m.slots[key]
		if s == nil || s.state != stateRequested {
			continue
		}
		s.state = stateLoading
		m.inFlight++
		return s, true
	}
}

func (m *Manager) worker(id int) {
	defer m.wg.Done()
	for {
		s, ok := m.next()
		if !ok {
			return
		}
		m.load(s)
	}
}

func (m *Manager) load(s *slot) {
	start := time.Now()
	c, source, err := m.fetch(m.ctx, s.key)
	if m.metrics != nil {
		m.metrics.observeLoad(source, time.Since(start), err)
	}

	m.mu.Lock()
	m.inFlight--
	if err == nil && s.interest == 0 && !s.preload {
		err = ErrReleased
	}
	if err != nil {
		if m.slots[s.key] == s {
			delete(m.slots, s.key)
		}
		if s.preload {
			m.preloadCount--
		}
		s.state = stateEvicted
		s.err = err
		m.mu.Unlock()

		if errors.Is(err, ErrReleased) {
			m.counters.discardedLoads.Add(1)
			m.logger.Debug("load of %s discarded: no interest left", s.key)
		} else {
			m.counters.failedLoads.Add(1)
			m.logger.Warn("load of %s failed: %v", s.key, err)
		}
		close(s.done)
		close(s.gone)
		return
	}

	s.chunk = c
	s.size = c.EstimatedSize()
	s.state = stateReady
	s.lastAccess = time.Now()
	m.memBytes += s.size
	m.mu.Unlock()

	switch source {
	case sourceLegacy:
		m.counters.loadsLegacy.Add(1)
	case sourceEnhanced:
		m.counters.loadsEnhanced.Add(1)
	case sourceGenerated:
		m.counters.loadsGenerated.Add(1)
	}
	m.logger.Debug("chunk %s ready (source %s, %s)", s.key, source, time.Since(start))

	m.notifier.OnChunkReady(s.key, c)

	m.mu.Lock()
	s.announced = true
	m.mu.Unlock()
	close(s.done)

	m.signalPressure()
}

const (
	sourceLegacy    = "legacy"
	sourceEnhanced  = "enhanced"
	sourceGenerated = "generated"
	sourceFailed    = "failed"
)

// fetch читает чанк под разделяемой блокировкой мира, генерирует отсутствующий
func (m *Manager) fetch(ctx context.Context, key chunk.Key) (*chunk.Chunk, string, error) {
	if m.lock != nil {
		if err := m.lock.TryRLock(); err != nil {
			return nil, sourceFailed, err
		}
		defer m.lock.RUnlock()
	}

	c, format, err := m.store.Load(ctx, key, m.cfg.PreferredFormat)
	if err == nil {
		return c, format.String(), nil
	}
	if !errors.Is(err, storage.ErrNotFound) || m.generator == nil {
		return nil, sourceFailed, err
	}

	c, err = m.generator.Generate(ctx, key)
	if err != nil {
		return nil, sourceFailed, fmt.Errorf("generate %s: %w", key, err)
	}
	// Сгенерированного чанка ещё нет в хранилище
	c.MarkDirty()
	return c, sourceGenerated, nil
}
