package loader

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/vertextoedge/modelcache/internal/domain"
	"github.com/vertextoedge/modelcache/internal/port"
)

// memStore is an in-memory port.CacheStore with failure injection
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	chunks  map[string][]byte
	created map[string]time.Time
	seq     int64

	putObjectErr error
	putChunkErr  error
	putChunks    int
}

var _ port.CacheStore = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		objects: make(map[string][]byte),
		chunks:  make(map[string][]byte),
		created: make(map[string]time.Time),
	}
}

func (s *memStore) HasChunk(ctx context.Context, identity string, index int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.chunks[domain.ChunkKey(identity, index)]
	return ok, nil
}

func (s *memStore) GetChunk(ctx context.Context, identity string, index int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.chunks[domain.ChunkKey(identity, index)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *memStore) PutChunk(ctx context.Context, identity string, index int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putChunkErr != nil {
		return s.putChunkErr
	}
	s.putChunks++
	s.chunks[domain.ChunkKey(identity, index)] = append([]byte(nil), data...)
	return nil
}

func (s *memStore) DeleteChunks(ctx context.Context, identity string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.chunks {
		if domain.MatchesChunkKey(key, identity) {
			delete(s.chunks, key)
			n++
		}
	}
	return n, nil
}

func (s *memStore) GetObject(ctx context.Context, identity string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[identity]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *memStore) PutObject(ctx context.Context, identity string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putObjectErr != nil {
		return s.putObjectErr
	}
	s.objects[identity] = append([]byte(nil), data...)
	s.seq++
	s.created[identity] = time.Unix(s.seq, 0)
	return nil
}

func (s *memStore) DeleteObject(ctx context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, identity)
	return nil
}

func (s *memStore) ListObjects(ctx context.Context) ([]domain.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var infos []domain.ObjectInfo
	for id, data := range s.objects {
		infos = append(infos, domain.ObjectInfo{Identity: id, Size: int64(len(data)), CreatedAt: s.created[id]})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Identity > infos[j].Identity })
	return infos, nil
}

func (s *memStore) Stats(ctx context.Context) (*domain.CacheStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &domain.CacheStats{Objects: len(s.objects), Chunks: len(s.chunks)}
	for _, data := range s.objects {
		stats.ObjectBytes += int64(len(data))
	}
	for _, data := range s.chunks {
		stats.ChunkBytes += int64(len(data))
	}
	return stats, nil
}

func (s *memStore) Ping(ctx context.Context) error { return nil }
func (s *memStore) Close() error                   { return nil }

func (s *memStore) chunkCount(identity string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.chunks {
		if domain.MatchesChunkKey(key, identity) {
			n++
		}
	}
	return n
}

func (s *memStore) object(identity string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[identity]
	return data, ok
}

// fakeOrigin serves data and records every call
type fakeOrigin struct {
	data        []byte
	sizeUnknown bool
	step        int64         // bytes per progress callback, 0 means one callback
	delay       time.Duration // per FetchRange call

	mu       sync.Mutex
	probes   int
	fetchAll int
	fetches  map[int]int
	failures map[int][]int // chunk index -> statuses returned on successive attempts
	inFlight int
	maxSeen  int
}

var _ port.Origin = (*fakeOrigin)(nil)

func newFakeOrigin(data []byte) *fakeOrigin {
	return &fakeOrigin{
		data:     data,
		fetches:  make(map[int]int),
		failures: make(map[int][]int),
	}
}

func (o *fakeOrigin) failChunk(index int, statuses ...int) {
	o.mu.Lock()
	o.failures[index] = statuses
	o.mu.Unlock()
}

func (o *fakeOrigin) Probe(ctx context.Context, url string) (int64, error) {
	o.mu.Lock()
	o.probes++
	o.mu.Unlock()
	if o.sizeUnknown {
		return 0, &domain.SizeUnknownError{URL: url, StatusCode: http.StatusOK}
	}
	return int64(len(o.data)), nil
}

func (o *fakeOrigin) FetchRange(ctx context.Context, url string, chunk domain.ChunkDescriptor, onBytes port.ProgressFunc) ([]byte, error) {
	o.mu.Lock()
	o.fetches[chunk.Index]++
	o.inFlight++
	if o.inFlight > o.maxSeen {
		o.maxSeen = o.inFlight
	}
	var status int
	if queue := o.failures[chunk.Index]; len(queue) > 0 {
		status = queue[0]
		o.failures[chunk.Index] = queue[1:]
	}
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.inFlight--
		o.mu.Unlock()
	}()

	if o.delay > 0 {
		select {
		case <-time.After(o.delay):
		case <-ctx.Done():
			return nil, domain.NewChunkFetchError(chunk.Index, 0, ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.NewChunkFetchError(chunk.Index, 0, err)
	}
	if status != 0 {
		// a partial body is visible to progress before the failure
		if onBytes != nil && chunk.Size > 1 {
			onBytes(chunk.Size / 2)
		}
		return nil, domain.NewChunkFetchError(chunk.Index, status, nil)
	}

	out := make([]byte, chunk.Size)
	copy(out, o.data[chunk.Start:chunk.End+1])

	step := o.step
	if step <= 0 {
		step = chunk.Size
	}
	if onBytes != nil {
		for received := step; ; received += step {
			if received >= chunk.Size {
				onBytes(chunk.Size)
				break
			}
			onBytes(received)
		}
	}
	return out, nil
}

func (o *fakeOrigin) FetchAll(ctx context.Context, url string, onBytes port.ProgressFunc) ([]byte, error) {
	o.mu.Lock()
	o.fetchAll++
	o.mu.Unlock()
	if onBytes != nil {
		onBytes(int64(len(o.data)) / 2)
		onBytes(int64(len(o.data)))
	}
	return append([]byte(nil), o.data...), nil
}

func (o *fakeOrigin) fetchCount(index int) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fetches[index]
}

func (o *fakeOrigin) totalFetches() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, c := range o.fetches {
		n += c
	}
	return n
}

func (o *fakeOrigin) calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := o.probes + o.fetchAll
	for _, c := range o.fetches {
		n += c
	}
	return n
}

func (o *fakeOrigin) resetCounts() {
	o.mu.Lock()
	o.probes = 0
	o.fetchAll = 0
	o.fetches = make(map[int]int)
	o.maxSeen = 0
	o.mu.Unlock()
}

func (o *fakeOrigin) maxInFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.maxSeen
}

// progressRecorder collects progress reports
type progressRecorder struct {
	mu      sync.Mutex
	reports [][2]int64
}

func (r *progressRecorder) record(loaded, total int64) {
	r.mu.Lock()
	r.reports = append(r.reports, [2]int64{loaded, total})
	r.mu.Unlock()
}

func (r *progressRecorder) all() [][2]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]int64(nil), r.reports...)
}

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + i/256)
	}
	return data
}
