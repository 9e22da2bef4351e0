package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"product-management/internal/domain"
	"product-management/internal/logger"
	"product-management/internal/query"
	"product-management/internal/repository"
	"product-management/internal/storage"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultSmallDir = "ProductImages"
	DefaultLargeDir = "ProductLargeImages"
)

// Caller identifies who an operation runs on behalf of. Its identity and role
// are attached to every log entry the operation writes.
type Caller struct {
	UserID string
	Name   string
	Role   string
}

// ProductValidator is the field-level validation collaborator.
type ProductValidator interface {
	ValidateProduct(fields domain.ProductFields) []domain.ValidationError
	ValidateCategory(category *domain.Category) []domain.ValidationError
}

// ProductPage is a listing page plus the navigation state to echo back.
type ProductPage struct {
	query.PageResult[*domain.Product]
	CurrentFilter     string            `json:"currentFilter"`
	CurrentSort       string            `json:"currentSort"`
	SearchBy          query.SearchField `json:"searchBy"`
	NameSortParam     string            `json:"nameSortParam"`
	CategorySortParam string            `json:"categorySortParam"`
	PriceSortParam    string            `json:"priceSortParam"`
}

// BatchResult is the outcome of DeleteBatch. NothingSelected is set when no
// ids were given; nothing is touched in that case.
type BatchResult struct {
	Deleted         []domain.DeletedSummary `json:"deleted"`
	NothingSelected bool                    `json:"nothingSelected"`
}

// CatalogService defines the product catalog operations
type CatalogService interface {
	ListProducts(ctx context.Context, caller Caller, params query.Params) (*ProductPage, error)
	GetProduct(ctx context.Context, caller Caller, id int64) (*domain.Product, error)
	ListCategories(ctx context.Context, caller Caller) ([]*domain.Category, error)
	CreateCategory(ctx context.Context, caller Caller, name string) (*domain.Category, error)
	CreateProduct(ctx context.Context, caller Caller, draft domain.ProductFields, small, large *domain.Asset) (*domain.Product, error)
	EditProduct(ctx context.Context, caller Caller, id int64, patch domain.ProductFields, small, large *domain.Asset) (*domain.Product, error)
	DeleteProduct(ctx context.Context, caller Caller, id int64) (*domain.DeletedSummary, error)
	PreviewBatch(ctx context.Context, caller Caller, ids []int64) ([]*domain.Product, error)
	DeleteBatch(ctx context.Context, caller Caller, ids []int64) (*BatchResult, error)
}

// Options tune a CatalogService. Zero values fall back to defaults.
type Options struct {
	PageSize int
	SmallDir string
	LargeDir string
}

type catalogService struct {
	store     repository.CatalogStore
	assets    storage.AssetStore
	validator ProductValidator
	logger    *zap.Logger
	locks     *keyedMutex

	pageSize int
	smallDir string
	largeDir string
}

// NewCatalogService creates a new instance of CatalogService
func NewCatalogService(
	store repository.CatalogStore,
	assets storage.AssetStore,
	validator ProductValidator,
	logger *zap.Logger,
	opts Options,
) CatalogService {
	if opts.PageSize <= 0 {
		opts.PageSize = query.DefaultPageSize
	}
	if opts.SmallDir == "" {
		opts.SmallDir = DefaultSmallDir
	}
	if opts.LargeDir == "" {
		opts.LargeDir = DefaultLargeDir
	}
	return &catalogService{
		store:     store,
		assets:    assets,
		validator: validator,
		logger:    logger,
		locks:     newKeyedMutex(),
		pageSize:  opts.PageSize,
		smallDir:  opts.SmallDir,
		largeDir:  opts.LargeDir,
	}
}

func (s *catalogService) log(caller Caller) *zap.Logger {
	return logger.WithCaller(s.logger, caller.UserID, caller.Name, caller.Role)
}

// ListProducts returns one page of products with their categories resolved
func (s *catalogService) ListProducts(ctx context.Context, caller Caller, params query.Params) (*ProductPage, error) {
	res := query.Build(params, s.pageSize)

	items, total, err := s.store.Products().Query(ctx, res.Spec)
	if err != nil {
		s.log(caller).Error("Failed to list products", zap.Error(err))
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	return &ProductPage{
		PageResult:        *query.NewPageResult(items, total, res.Spec),
		CurrentFilter:     res.CurrentFilter,
		CurrentSort:       res.CurrentSort,
		SearchBy:          res.SearchBy,
		NameSortParam:     res.NameSortParam,
		CategorySortParam: res.CategorySortParam,
		PriceSortParam:    res.PriceSortParam,
	}, nil
}

func (s *catalogService) GetProduct(ctx context.Context, caller Caller, id int64) (*domain.Product, error) {
	p, err := findOne(ctx, s.store.Products(), id)
	if err != nil {
		return nil, s.logFailure(caller, "Failed to load product", id, err)
	}
	return p, nil
}

func (s *catalogService) ListCategories(ctx context.Context, caller Caller) ([]*domain.Category, error) {
	categories, err := s.store.Categories().List(ctx)
	if err != nil {
		s.log(caller).Error("Failed to list categories", zap.Error(err))
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return categories, nil
}

func (s *catalogService) CreateCategory(ctx context.Context, caller Caller, name string) (*domain.Category, error) {
	category := &domain.Category{Name: strings.TrimSpace(name)}
	if errs := s.validator.ValidateCategory(category); len(errs) > 0 {
		return nil, &domain.ValidationFailure{Errors: errs}
	}

	if err := s.store.Categories().Create(ctx, category); err != nil {
		if errors.Is(err, repository.ErrCategoryAlreadyExists) {
			return nil, &domain.ValidationFailure{Errors: []domain.ValidationError{{
				Field:   "name",
				Tag:     "unique",
				Message: "A category with this name already exists.",
			}}}
		}
		s.log(caller).Error("Failed to create category", zap.Error(err))
		return nil, fmt.Errorf("failed to create category: %w", err)
	}

	s.log(caller).Info("Category created", zap.Int64("category_id", category.ID), zap.String("name", category.Name))
	return category, nil
}

// CreateProduct validates the draft, reserves an id, writes the images named
// after that id and inserts the record. Images written before a failed insert
// are removed again.
func (s *catalogService) CreateProduct(
	ctx context.Context,
	caller Caller,
	draft domain.ProductFields,
	small, large *domain.Asset,
) (*domain.Product, error) {
	log := s.log(caller)

	if small == nil {
		return nil, s.invalid(ctx, caller, draft, domain.ValidationError{
			Field:   "smallImage",
			Tag:     "required",
			Message: "Product Small Image is required.",
		})
	}

	category, err := s.validate(ctx, draft, small, large)
	if err != nil {
		return nil, s.rejected(ctx, caller, draft, err)
	}

	// Reserve the id first, image names are derived from it
	id, err := s.store.Products().NextID(ctx)
	if err != nil {
		log.Error("Failed to reserve product id", zap.Error(err))
		return nil, err
	}

	product := &domain.Product{ID: id, ProductFields: draft}

	smallOut, largeOut, err := s.writeAssets(ctx, id, nil, small, large)
	if err != nil {
		s.discard(ctx, log, id, stored(smallOut, largeOut), nil)
		log.Error("Failed to write product images", zap.Int64("product_id", id), zap.Error(err))
		return nil, err
	}
	product.SmallImagePath = &smallOut.Final
	if largeOut.Final != "" {
		product.LargeImagePath = &largeOut.Final
	}

	if err := s.store.Products().Create(ctx, product); err != nil {
		s.discard(ctx, log, id, stored(smallOut, largeOut), nil)
		if errors.Is(err, repository.ErrCategoryNotFound) {
			return nil, s.invalid(ctx, caller, draft, unknownCategory())
		}
		log.Error("Failed to create product", zap.Int64("product_id", id), zap.Error(err))
		return nil, err
	}

	product.Category = category
	log.Info("Product created", zap.Int64("product_id", id), zap.String("name", product.Name))
	return product, nil
}

// EditProduct replaces the editable fields of a product. Images that are not
// supplied keep their current path; replaced images are removed once the
// record update has been committed. An upload that reuses the current file
// name only replaces that file after the commit.
func (s *catalogService) EditProduct(
	ctx context.Context,
	caller Caller,
	id int64,
	patch domain.ProductFields,
	small, large *domain.Asset,
) (*domain.Product, error) {
	log := s.log(caller).With(zap.Int64("product_id", id))

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := findOne(ctx, s.store.Products(), id)
	if err != nil {
		return nil, s.logFailure(caller, "Failed to load product for edit", id, err)
	}

	category, err := s.validate(ctx, patch, small, large)
	if err != nil {
		return nil, s.rejected(ctx, caller, patch, err)
	}

	// Uploads that reuse a live file name are staged until the update commits
	smallOut, largeOut, err := s.writeAssets(ctx, id, current, small, large)
	if err != nil {
		s.discard(ctx, log, id, stored(smallOut, largeOut), current)
		log.Error("Failed to write product images", zap.Error(err))
		return nil, err
	}

	updated := *current
	updated.Apply(patch)

	var superseded []string
	if smallOut.Final != "" {
		if current.SmallImagePath != nil && !samePath(*current.SmallImagePath, smallOut.Final) {
			superseded = append(superseded, *current.SmallImagePath)
		}
		updated.SmallImagePath = &smallOut.Final
	}
	if largeOut.Final != "" {
		if current.LargeImagePath != nil && !samePath(*current.LargeImagePath, largeOut.Final) {
			superseded = append(superseded, *current.LargeImagePath)
		}
		updated.LargeImagePath = &largeOut.Final
	}

	if err := s.store.Products().Update(ctx, &updated); err != nil {
		s.discard(ctx, log, id, stored(smallOut, largeOut), current)
		switch {
		case errors.Is(err, repository.ErrProductNotFound):
			return nil, &domain.NotFoundError{ID: id}
		case errors.Is(err, repository.ErrCategoryNotFound):
			return nil, s.invalid(ctx, caller, patch, unknownCategory())
		}
		log.Error("Failed to update product", zap.Error(err))
		return nil, err
	}

	// Promote staged uploads over the files they replace
	for _, out := range []assetWrite{smallOut, largeOut} {
		if !out.staged() {
			continue
		}
		if err := s.assets.Move(context.WithoutCancel(ctx), out.Stored, out.Final); err != nil {
			log.Error("Failed to promote staged product image", zap.String("path", out.Final), zap.Error(err))
			s.discard(ctx, log, id, []string{out.Stored}, nil)
		}
	}

	if err := s.removeAssets(ctx, superseded); err != nil {
		log.Warn("Failed to delete superseded product image", zap.Error(err))
	}

	updated.Category = category
	log.Info("Product updated", zap.String("name", updated.Name))
	return &updated, nil
}

// DeleteProduct removes a product record and then its images. Missing image
// files are not an error.
func (s *catalogService) DeleteProduct(ctx context.Context, caller Caller, id int64) (*domain.DeletedSummary, error) {
	log := s.log(caller).With(zap.Int64("product_id", id))

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := findOne(ctx, s.store.Products(), id)
	if err != nil {
		return nil, s.logFailure(caller, "Failed to load product for delete", id, err)
	}

	if err := s.store.Products().Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			return nil, &domain.NotFoundError{ID: id}
		}
		log.Error("Failed to delete product", zap.Error(err))
		return nil, err
	}

	if err := s.removeAssets(ctx, imagePaths(current)); err != nil {
		log.Error("Failed to delete product images", zap.Error(err))
	}

	summary := current.Summary()
	log.Info("Product deleted", zap.String("name", summary.Name))
	return &summary, nil
}

// PreviewBatch returns the products a DeleteBatch with the same ids would
// remove.
func (s *catalogService) PreviewBatch(ctx context.Context, caller Caller, ids []int64) ([]*domain.Product, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil, domain.ErrNothingSelected
	}

	products := make([]*domain.Product, 0, len(ids))
	for _, id := range ids {
		p, err := findOne(ctx, s.store.Products(), id)
		if err != nil {
			return nil, s.logFailure(caller, "Failed to load product for batch delete", id, err)
		}
		products = append(products, p)
	}
	return products, nil
}

// DeleteBatch removes every listed product in a single transaction. If any id
// does not resolve to exactly one record nothing is removed. Image files are
// deleted only after the transaction has committed.
func (s *catalogService) DeleteBatch(ctx context.Context, caller Caller, ids []int64) (*BatchResult, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return &BatchResult{NothingSelected: true, Deleted: []domain.DeletedSummary{}}, nil
	}
	log := s.log(caller).With(zap.Int64s("product_ids", ids))

	unlock, err := s.locks.LockAll(ctx, ids)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var staged []*domain.Product
	err = s.store.WithinTx(ctx, func(tx repository.CatalogStore) error {
		// Resolve every id before deleting anything
		staged = staged[:0]
		for _, id := range ids {
			p, err := findOne(ctx, tx.Products(), id)
			if err != nil {
				return err
			}
			staged = append(staged, p)
		}
		for _, p := range staged {
			if err := tx.Products().Delete(ctx, p.ID); err != nil {
				if errors.Is(err, repository.ErrProductNotFound) {
					return &domain.NotFoundError{ID: p.ID}
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isRecoverable(err) {
			log.Info("Batch delete rejected", zap.Error(err))
		} else {
			log.Error("Failed to delete products", zap.Error(err))
		}
		return nil, err
	}

	result := &BatchResult{Deleted: make([]domain.DeletedSummary, 0, len(staged))}
	var paths []string
	for _, p := range staged {
		result.Deleted = append(result.Deleted, p.Summary())
		paths = append(paths, imagePaths(p)...)
	}

	// Files go only after the transaction has committed
	if err := s.removeAssets(ctx, paths); err != nil {
		log.Error("Failed to delete product images", zap.Error(err))
	}

	log.Info("Products deleted", zap.Int("count", len(result.Deleted)))
	return result, nil
}

// validate runs field validation, image checks and the category lookup. It
// returns the referenced category on success.
func (s *catalogService) validate(ctx context.Context, fields domain.ProductFields, small, large *domain.Asset) (*domain.Category, error) {
	errs := s.validator.ValidateProduct(fields)
	if ve := checkAsset("smallImage", small); ve != nil {
		errs = append(errs, *ve)
	}
	if ve := checkAsset("largeImage", large); ve != nil {
		errs = append(errs, *ve)
	}
	if len(errs) > 0 {
		return nil, &domain.ValidationFailure{Errors: errs}
	}

	category, err := s.store.Categories().FindByID(ctx, fields.CategoryID)
	if err != nil {
		if errors.Is(err, repository.ErrCategoryNotFound) {
			return nil, &domain.ValidationFailure{Errors: []domain.ValidationError{unknownCategory()}}
		}
		return nil, fmt.Errorf("failed to load category: %w", err)
	}
	return category, nil
}

// rejected completes a validation failure with the category list and the
// fields as submitted. Other errors are logged and passed through.
func (s *catalogService) rejected(ctx context.Context, caller Caller, draft domain.ProductFields, err error) error {
	var vf *domain.ValidationFailure
	if !errors.As(err, &vf) {
		s.log(caller).Error("Failed to validate product", zap.Error(err))
		return err
	}
	return s.invalid(ctx, caller, draft, vf.Errors...)
}

func (s *catalogService) invalid(ctx context.Context, caller Caller, draft domain.ProductFields, errs ...domain.ValidationError) error {
	categories, err := s.ListCategories(ctx, caller)
	if err != nil {
		return err
	}
	return &domain.ValidationFailure{Errors: errs, Categories: categories, Draft: draft}
}

// assetWrite records where an uploaded image was written. Stored differs from
// Final while the upload is staged.
type assetWrite struct {
	Final  string
	Stored string
}

func (w assetWrite) staged() bool {
	return w.Stored != "" && w.Stored != w.Final
}

// writeAssets stores the supplied images for product id concurrently. An
// upload whose final path is still referenced by current is written under a
// staging name instead, so the live file is untouched until the caller moves
// it into place. Zero values are returned for images that were not supplied
// or not written. On failure the caller discards whatever was stored.
func (s *catalogService) writeAssets(ctx context.Context, id int64, current *domain.Product, small, large *domain.Asset) (assetWrite, assetWrite, error) {
	var smallOut, largeOut assetWrite

	g, gctx := errgroup.WithContext(ctx)
	save := func(dir string, a *domain.Asset, dst *assetWrite) {
		if a == nil {
			return
		}
		g.Go(func() error {
			name := storage.AssetName(a.Filename, id)
			final := path.Join(dir, name)
			if current != nil && referenced(current, final) {
				name = storage.StagingName(name)
			}

			p, err := s.assets.Save(gctx, dir, name, a.Data)
			if err != nil {
				return &domain.AssetWriteError{Path: final, Err: err}
			}
			*dst = assetWrite{Final: final, Stored: p}
			return nil
		})
	}
	save(s.smallDir, small, &smallOut)
	save(s.largeDir, large, &largeOut)

	err := g.Wait()
	return smallOut, largeOut, err
}

// discard removes images written for an operation whose record change failed.
// A file that the stored record still points to is kept.
func (s *catalogService) discard(ctx context.Context, log *zap.Logger, id int64, paths []string, current *domain.Product) {
	var orphans []string
	for _, p := range paths {
		if current != nil && referenced(current, p) {
			continue
		}
		orphans = append(orphans, p)
	}
	if err := s.removeAssets(context.WithoutCancel(ctx), orphans); err != nil {
		log.Warn("Failed to remove orphaned product image", zap.Int64("product_id", id), zap.Error(err))
	}
}

// removeAssets deletes every path, continuing past failures.
func (s *catalogService) removeAssets(ctx context.Context, paths []string) error {
	var err error
	for _, p := range paths {
		if delErr := s.assets.Delete(ctx, p); delErr != nil {
			err = multierr.Append(err, &domain.AssetDeleteError{Path: p, Err: delErr})
		}
	}
	return err
}

func (s *catalogService) logFailure(caller Caller, msg string, id int64, err error) error {
	if !isRecoverable(err) {
		s.log(caller).Error(msg, zap.Int64("product_id", id), zap.Error(err))
	}
	return err
}

// findOne resolves id to exactly one product.
func findOne(ctx context.Context, products repository.ProductRepository, id int64) (*domain.Product, error) {
	matches, err := products.FindAllByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load product %d: %w", id, err)
	}
	switch len(matches) {
	case 0:
		return nil, &domain.NotFoundError{ID: id}
	case 1:
		return matches[0], nil
	default:
		return nil, &domain.AmbiguousMatchError{ID: id, Matches: len(matches)}
	}
}

func checkAsset(field string, a *domain.Asset) *domain.ValidationError {
	if a == nil {
		return nil
	}
	switch err := storage.CheckImage(a.Filename, a.Data); {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrUnsupportedExtension):
		return &domain.ValidationError{Field: field, Tag: "extension", Message: "Only .jpg, .jpeg, and .png extensions are allowed."}
	case errors.Is(err, storage.ErrEmptyFile):
		return &domain.ValidationError{Field: field, Tag: "required", Message: "The uploaded file is empty."}
	default:
		return &domain.ValidationError{Field: field, Tag: "image", Message: "The uploaded file is not a JPEG or PNG image."}
	}
}

func unknownCategory() domain.ValidationError {
	return domain.ValidationError{Field: "categoryId", Tag: "exists", Message: "The selected category does not exist."}
}

func isRecoverable(err error) bool {
	var vf *domain.ValidationFailure
	return domain.IsNotFound(err) || errors.As(err, &vf)
}

func imagePaths(p *domain.Product) []string {
	var paths []string
	if p.SmallImagePath != nil && *p.SmallImagePath != "" {
		paths = append(paths, *p.SmallImagePath)
	}
	if p.LargeImagePath != nil && *p.LargeImagePath != "" {
		paths = append(paths, *p.LargeImagePath)
	}
	return paths
}

func stored(writes ...assetWrite) []string {
	var out []string
	for _, w := range writes {
		if w.Stored != "" {
			out = append(out, w.Stored)
		}
	}
	return out
}

func referenced(p *domain.Product, assetPath string) bool {
	for _, existing := range imagePaths(p) {
		if samePath(existing, assetPath) {
			return true
		}
	}
	return false
}

// samePath compares stored paths ignoring the legacy "~/" prefix.
func samePath(a, b string) bool {
	norm := func(p string) string {
		return strings.TrimPrefix(strings.TrimPrefix(p, "~"), "/")
	}
	return norm(a) == norm(b)
}

// uniqueIDs drops duplicate ids, keeping first-seen order.
func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
