package transport

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"product-management/internal/domain"
	"product-management/internal/middleware"
	"product-management/internal/query"
	"product-management/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BatchDeleteRequest represents the batch delete request payload
type BatchDeleteRequest struct {
	IDs []int64 `json:"ids"`
}

// ProductResponse is returned after a product was created or saved
type ProductResponse struct {
	Message string          `json:"message"`
	Product *domain.Product `json:"product"`
}

// DeleteResponse lists the products that were removed
type DeleteResponse struct {
	Message string                  `json:"message"`
	Deleted []domain.DeletedSummary `json:"deleted"`
}

// ProductHandler handles HTTP requests for catalog products
type ProductHandler struct {
	catalog        service.CatalogService
	logger         *zap.Logger
	maxUploadBytes int64
}

// NewProductHandler creates a new ProductHandler
func NewProductHandler(catalog service.CatalogService, logger *zap.Logger, maxUploadBytes int64) *ProductHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &ProductHandler{
		catalog:        catalog,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
	}
}

// RegisterRoutes registers all product routes. Reads only need an
// authenticated caller; writes also run behind writerMiddleware.
func (h *ProductHandler) RegisterRoutes(r chi.Router, authMiddleware func(http.Handler) http.Handler, writerMiddleware ...func(http.Handler) http.Handler) {
	r.Route("/api/products", func(r chi.Router) {
		r.Use(authMiddleware)

		r.Get("/", h.List)
		r.Get("/batch", h.PreviewBatch)
		r.Get("/{id}", h.Get)

		r.Group(func(r chi.Router) {
			r.Use(writerMiddleware...)
			r.Post("/", h.Create)
			r.Put("/{id}", h.Edit)
			r.Delete("/{id}", h.Delete)
			r.Post("/batch-delete", h.DeleteBatch)
		})
	})
}

// List handles the paged, filtered and sorted product listing
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))

	params := query.Params{
		SortOrder:     q.Get("sortOrder"),
		SearchString:  q.Get("searchString"),
		SearchBy:      q.Get("searchBy"),
		Page:          page,
		CurrentFilter: q.Get("currentFilter"),
	}

	result, err := h.catalog.ListProducts(r.Context(), callerFrom(r), params)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, result)
}

// Get returns one product with its category
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}

	product, err := h.catalog.GetProduct(r.Context(), callerFrom(r), id)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, product)
}

// Create handles a multipart product upload
func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	fields, small, large, ok := h.parseProductForm(w, r)
	if !ok {
		return
	}

	product, err := h.catalog.CreateProduct(r.Context(), callerFrom(r), fields, small, large)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusCreated, ProductResponse{
		Message: service.CreatedMessage(product),
		Product: product,
	})
}

// Edit replaces the fields of a product and optionally its images
func (h *ProductHandler) Edit(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}

	fields, small, large, ok := h.parseProductForm(w, r)
	if !ok {
		return
	}

	product, err := h.catalog.EditProduct(r.Context(), callerFrom(r), id, fields, small, large)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, ProductResponse{
		Message: service.SavedMessage(),
		Product: product,
	})
}

// Delete removes a product and its images
func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}

	deleted, err := h.catalog.DeleteProduct(r.Context(), callerFrom(r), id)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, DeleteResponse{
		Message: service.DeletedMessage(*deleted),
		Deleted: []domain.DeletedSummary{*deleted},
	})
}

// PreviewBatch lists the products selected for a batch delete
func (h *ProductHandler) PreviewBatch(w http.ResponseWriter, r *http.Request) {
	var ids []int64
	for _, raw := range r.URL.Query()["ids"] {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			middleware.RespondWithError(w, http.StatusBadRequest, "invalid product id")
			return
		}
		ids = append(ids, id)
	}

	products, err := h.catalog.PreviewBatch(r.Context(), callerFrom(r), ids)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, products)
}

// DeleteBatch removes all selected products or none of them
func (h *ProductHandler) DeleteBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchDeleteRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		h.logger.Debug("Batch delete decode failed", zap.Error(err))
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.catalog.DeleteBatch(r.Context(), callerFrom(r), req.IDs)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	if result.NothingSelected {
		middleware.RespondWithJSON(w, http.StatusOK, DeleteResponse{
			Message: service.NothingSelectedMessage,
			Deleted: result.Deleted,
		})
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, DeleteResponse{
		Message: service.DeletedMessage(result.Deleted...),
		Deleted: result.Deleted,
	})
}

// parseProductForm reads the product fields and images of a multipart
// request. It writes the error response itself and reports false on failure.
func (h *ProductHandler) parseProductForm(w http.ResponseWriter, r *http.Request) (domain.ProductFields, *domain.Asset, *domain.Asset, bool) {
	var fields domain.ProductFields

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.RespondWithError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return fields, nil, nil, false
		}
		h.logger.Debug("Product form parse failed", zap.Error(err))
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid multipart form")
		return fields, nil, nil, false
	}

	var errs []domain.ValidationError
	fields.Name = strings.TrimSpace(r.FormValue("name"))
	fields.ShortDescription = strings.TrimSpace(r.FormValue("shortDescription"))
	fields.LongDescription = strings.TrimSpace(r.FormValue("longDescription"))

	if raw := r.FormValue("categoryId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			errs = append(errs, notANumber("categoryId"))
		}
		fields.CategoryID = id
	}
	if raw := r.FormValue("price"); raw != "" {
		price, err := decimal.NewFromString(raw)
		if err != nil {
			errs = append(errs, notANumber("price"))
		}
		fields.Price = price
	}
	if raw := r.FormValue("quantity"); raw != "" {
		qty, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, notANumber("quantity"))
		}
		fields.Quantity = qty
	}
	if len(errs) > 0 {
		// Re-rendering the form needs the category choices as well
		categories, err := h.catalog.ListCategories(r.Context(), callerFrom(r))
		if err != nil {
			h.respondWithServiceError(w, err)
			return fields, nil, nil, false
		}
		if categories == nil {
			categories = []*domain.Category{}
		}
		middleware.RespondWithValidationFailure(w, &domain.ValidationFailure{Errors: errs, Categories: categories, Draft: fields})
		return fields, nil, nil, false
	}

	small, err := formAsset(r.MultipartForm, "smallImage")
	if err != nil {
		h.logger.Debug("Small image read failed", zap.Error(err))
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid small image upload")
		return fields, nil, nil, false
	}
	large, err := formAsset(r.MultipartForm, "largeImage")
	if err != nil {
		h.logger.Debug("Large image read failed", zap.Error(err))
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid large image upload")
		return fields, nil, nil, false
	}

	return fields, small, large, true
}

// formAsset returns the uploaded file for key, or nil if none was sent.
func formAsset(form *multipart.Form, key string) (*domain.Asset, error) {
	if form == nil || len(form.File[key]) == 0 {
		return nil, nil
	}
	header := form.File[key][0]

	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return &domain.Asset{Filename: header.Filename, Data: data}, nil
}

func notANumber(field string) domain.ValidationError {
	return domain.ValidationError{Field: field, Tag: "number", Message: "Must be a number"}
}

func productID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid product id")
		return 0, false
	}
	return id, true
}

// callerFrom builds the service caller from the authenticated request.
func callerFrom(r *http.Request) service.Caller {
	userID, _ := middleware.GetUserID(r.Context())
	role, _ := middleware.GetUserRole(r.Context())
	return service.Caller{
		UserID: userID,
		Name:   middleware.GetUserName(r.Context()),
		Role:   role,
	}
}

// respondWithServiceError maps catalog errors to status codes
func (h *ProductHandler) respondWithServiceError(w http.ResponseWriter, err error) {
	respondWithServiceError(w, h.logger, err)
}

func respondWithServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var (
		vf        *domain.ValidationFailure
		notFound  *domain.NotFoundError
		ambiguous *domain.AmbiguousMatchError
	)

	switch {
	case errors.As(err, &vf):
		middleware.RespondWithValidationFailure(w, vf)
	case errors.Is(err, domain.ErrNothingSelected):
		middleware.RespondWithError(w, http.StatusBadRequest, service.NothingSelectedMessage)
	case errors.As(err, &notFound):
		middleware.RespondWithError(w, http.StatusNotFound, "product not found")
	case errors.As(err, &ambiguous):
		logger.Error("Product id matched more than one record", zap.Int64("product_id", ambiguous.ID), zap.Int("matches", ambiguous.Matches))
		middleware.RespondWithError(w, http.StatusInternalServerError, "internal server error")
	default:
		middleware.RespondWithError(w, http.StatusInternalServerError, "internal server error")
	}
}
