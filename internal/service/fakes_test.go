package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"product-management/internal/domain"
	"product-management/internal/query"
	"product-management/internal/repository"
	"product-management/internal/storage"
)

// memStore is an in-memory CatalogStore. Transactions snapshot the product
// table and restore it when the callback fails.
type memStore struct {
	mu         sync.Mutex
	products   map[int64]*domain.Product
	categories map[int64]*domain.Category
	nextID     int64

	// duplicates makes FindAllByID report extra matches for an id.
	duplicates map[int64]int
	failCreate error
	failUpdate error
	failDelete map[int64]error

	findCalls map[int64]int
}

func newMemStore() *memStore {
	return &memStore{
		products: map[int64]*domain.Product{},
		categories: map[int64]*domain.Category{
			1: {ID: 1, Name: "Electronics"},
			2: {ID: 2, Name: "Furniture"},
			3: {ID: 3, Name: "Games"},
		},
		duplicates: map[int64]int{},
		failDelete: map[int64]error{},
		findCalls:  map[int64]int{},
	}
}

func (s *memStore) Products() repository.ProductRepository     { return memProducts{s} }
func (s *memStore) Categories() repository.CategoryRepository { return memCategories{s} }

func (s *memStore) WithinTx(ctx context.Context, fn func(tx repository.CatalogStore) error) error {
	s.mu.Lock()
	snapshot := make(map[int64]*domain.Product, len(s.products))
	for id, p := range s.products {
		snapshot[id] = p
	}
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.products = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// put stores p directly, bypassing the service.
func (s *memStore) put(p *domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID > s.nextID {
		s.nextID = p.ID
	}
	s.products[p.ID] = cloneProduct(p)
}

func (s *memStore) get(id int64) *domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.products[id]; ok {
		return cloneProduct(p)
	}
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.products)
}

func (s *memStore) finds(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findCalls[id]
}

func cloneProduct(p *domain.Product) *domain.Product {
	c := *p
	if p.Category != nil {
		cat := *p.Category
		c.Category = &cat
	}
	return &c
}

type memProducts struct{ s *memStore }

func (r memProducts) NextID(ctx context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextID++
	return r.s.nextID, nil
}

func (r memProducts) Create(ctx context.Context, p *domain.Product) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failCreate != nil {
		return r.s.failCreate
	}
	if _, ok := r.s.categories[p.CategoryID]; !ok {
		return repository.ErrCategoryNotFound
	}
	r.s.products[p.ID] = cloneProduct(p)
	return nil
}

func (r memProducts) Update(ctx context.Context, p *domain.Product) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failUpdate != nil {
		return r.s.failUpdate
	}
	if _, ok := r.s.products[p.ID]; !ok {
		return repository.ErrProductNotFound
	}
	r.s.products[p.ID] = cloneProduct(p)
	return nil
}

func (r memProducts) Delete(ctx context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failDelete[id]; err != nil {
		return err
	}
	if _, ok := r.s.products[id]; !ok {
		return repository.ErrProductNotFound
	}
	delete(r.s.products, id)
	return nil
}

func (r memProducts) FindAllByID(ctx context.Context, id int64) ([]*domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.findCalls[id]++

	p, ok := r.s.products[id]
	if !ok {
		return []*domain.Product{}, nil
	}
	out := []*domain.Product{r.s.resolve(p)}
	for i := 0; i < r.s.duplicates[id]; i++ {
		out = append(out, r.s.resolve(p))
	}
	return out, nil
}

func (r memProducts) Query(ctx context.Context, spec query.Spec) ([]*domain.Product, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var matches []*domain.Product
	for _, p := range r.s.products {
		c := r.s.resolve(p)
		if spec.Predicate.Matches(c) {
			matches = append(matches, c)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return spec.Less(matches[i], matches[j]) })

	total := len(matches)
	start := spec.Offset()
	if start > total {
		start = total
	}
	end := start + spec.PageSize
	if end > total {
		end = total
	}
	return matches[start:end], total, nil
}

// resolve returns a copy of p with its category attached. Callers hold mu.
func (s *memStore) resolve(p *domain.Product) *domain.Product {
	c := cloneProduct(p)
	if cat, ok := s.categories[p.CategoryID]; ok {
		cc := *cat
		c.Category = &cc
	}
	return c
}

type memCategories struct{ s *memStore }

func (r memCategories) Create(ctx context.Context, c *domain.Category) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.categories {
		if existing.Name == c.Name {
			return repository.ErrCategoryAlreadyExists
		}
	}
	c.ID = int64(len(r.s.categories) + 1)
	cc := *c
	r.s.categories[c.ID] = &cc
	return nil
}

func (r memCategories) List(ctx context.Context) ([]*domain.Category, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*domain.Category, 0, len(r.s.categories))
	for _, c := range r.s.categories {
		cc := *c
		out = append(out, &cc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r memCategories) FindByID(ctx context.Context, id int64) (*domain.Category, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.categories[id]
	if !ok {
		return nil, repository.ErrCategoryNotFound
	}
	cc := *c
	return &cc, nil
}

// recordingAssets wraps an AssetStore, records deletes and injects failures.
type recordingAssets struct {
	storage.AssetStore

	mu         sync.Mutex
	deleted    []string
	failSaveIn string
	failDelete error
	failMove   error

	// When set, Save signals entered once and then waits for release.
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

var errDiskFull = errors.New("disk full")

func (a *recordingAssets) Save(ctx context.Context, dir, name string, data []byte) (string, error) {
	if a.entered != nil {
		a.once.Do(func() { close(a.entered) })
		<-a.release
	}
	if a.failSaveIn != "" && dir == a.failSaveIn {
		return "", errDiskFull
	}
	return a.AssetStore.Save(ctx, dir, name, data)
}

func (a *recordingAssets) Delete(ctx context.Context, assetPath string) error {
	a.mu.Lock()
	a.deleted = append(a.deleted, assetPath)
	failure := a.failDelete
	a.mu.Unlock()
	if failure != nil {
		return failure
	}
	return a.AssetStore.Delete(ctx, assetPath)
}

func (a *recordingAssets) Move(ctx context.Context, from, to string) error {
	if a.failMove != nil {
		return a.failMove
	}
	return a.AssetStore.Move(ctx, from, to)
}

func (a *recordingAssets) deletedMatching(substr string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, p := range a.deleted {
		if strings.Contains(p, substr) {
			out = append(out, p)
		}
	}
	return out
}
