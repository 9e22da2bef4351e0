package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"product-management/internal/domain"
	"product-management/internal/query"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func newProduct(t *testing.T, repo ProductRepository, name, category string, price int64) *domain.Product {
	t.Helper()
	ctx := context.Background()

	id, err := repo.NextID(ctx)
	require.NoError(t, err)

	p := &domain.Product{
		ID: id,
		ProductFields: domain.ProductFields{
			Name:             name,
			CategoryID:       categoryID(t, category),
			Price:            decimal.NewFromInt(price),
			Quantity:         1,
			ShortDescription: name + " short description",
		},
		SmallImagePath: strPtr(fmt.Sprintf("ProductImages/%s_%d.jpg", name, id)),
	}
	require.NoError(t, repo.Create(ctx, p))
	return p
}

func TestProperty_ProductCreationPreservesAttributes(t *testing.T) {
	resetProducts(t)
	repo := NewProductRepository(testDB)
	electronics := categoryID(t, "Electronics")

	properties := gopter.NewProperties(nil)

	properties.Property("creating and retrieving a product preserves all attributes", prop.ForAll(
		func(name string, description string, cents int64, quantity int, withLarge bool) bool {
			ctx := context.Background()

			id, err := repo.NextID(ctx)
			if err != nil {
				t.Logf("FAIL: Failed to reserve id: %v", err)
				return false
			}

			product := &domain.Product{
				ID: id,
				ProductFields: domain.ProductFields{
					Name:             name,
					CategoryID:       electronics,
					Price:            decimal.New(cents, -2),
					Quantity:         quantity,
					ShortDescription: description,
					LongDescription:  description + description,
				},
				SmallImagePath: strPtr(fmt.Sprintf("ProductImages/p_%d.png", id)),
			}
			if withLarge {
				product.LargeImagePath = strPtr(fmt.Sprintf("ProductLargeImages/p_%d.png", id))
			}

			if err := repo.Create(ctx, product); err != nil {
				t.Logf("FAIL: Failed to create product: %v", err)
				return false
			}

			found, err := repo.FindAllByID(ctx, id)
			if err != nil || len(found) != 1 {
				t.Logf("FAIL: expected exactly one match, got %d (%v)", len(found), err)
				return false
			}
			got := found[0]

			if got.ProductFields.Name != product.Name ||
				got.CategoryID != product.CategoryID ||
				!got.Price.Equal(product.Price) ||
				got.Quantity != product.Quantity ||
				got.ShortDescription != product.ShortDescription ||
				got.LongDescription != product.LongDescription {
				t.Logf("FAIL: attribute mismatch: %+v vs %+v", got.ProductFields, product.ProductFields)
				return false
			}
			if got.Category == nil || got.Category.Name != "Electronics" {
				t.Logf("FAIL: category not resolved: %+v", got.Category)
				return false
			}
			if *got.SmallImagePath != *product.SmallImagePath {
				return false
			}
			if withLarge != (got.LargeImagePath != nil) {
				return false
			}

			_ = repo.Delete(ctx, id)
			return true
		},
		gen.RegexMatch(`[A-Za-z0-9 ]{3,50}`),
		gen.RegexMatch(`[A-Za-z0-9 .,!?]{10,120}`),
		gen.Int64Range(0, 99999999),
		gen.IntRange(0, 1000),
		gen.Bool(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestProperty_ProductUpdatesAreReflected(t *testing.T) {
	resetProducts(t)
	repo := NewProductRepository(testDB)
	games := categoryID(t, "Games")

	properties := gopter.NewProperties(nil)

	properties.Property("updating a product and retrieving it shows the updated values", prop.ForAll(
		func(name1, name2 string, cents1, cents2 int64, clearLarge bool) bool {
			ctx := context.Background()

			product := newProduct(t, repo, name1, "Electronics", cents1)
			product.LargeImagePath = strPtr("ProductLargeImages/x.png")
			if err := repo.Update(ctx, product); err != nil {
				t.Logf("FAIL: Failed to update product: %v", err)
				return false
			}

			product.Apply(domain.ProductFields{
				Name:             name2,
				CategoryID:       games,
				Price:            decimal.New(cents2, -2),
				Quantity:         7,
				ShortDescription: "updated",
			})
			if clearLarge {
				product.LargeImagePath = nil
			}
			if err := repo.Update(ctx, product); err != nil {
				t.Logf("FAIL: Failed to update product: %v", err)
				return false
			}

			found, err := repo.FindAllByID(ctx, product.ID)
			if err != nil || len(found) != 1 {
				return false
			}
			got := found[0]

			ok := got.ProductFields.Name == name2 &&
				got.Price.Equal(decimal.New(cents2, -2)) &&
				got.Category.Name == "Games" &&
				got.Quantity == 7 &&
				clearLarge == (got.LargeImagePath == nil)

			_ = repo.Delete(ctx, product.ID)
			return ok
		},
		gen.RegexMatch(`[A-Za-z0-9]{3,30}`),
		gen.RegexMatch(`[A-Za-z0-9]{3,30}`),
		gen.Int64Range(0, 9999999),
		gen.Int64Range(0, 9999999),
		gen.Bool(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestProductRepository_DeleteRemovesFromCatalog(t *testing.T) {
	resetProducts(t)
	repo := NewProductRepository(testDB)
	ctx := context.Background()

	p := newProduct(t, repo, "Chair", "Furniture", 40)

	require.NoError(t, repo.Delete(ctx, p.ID))

	found, err := repo.FindAllByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, found)

	assert.ErrorIs(t, repo.Delete(ctx, p.ID), ErrProductNotFound)
	p.Name = "gone"
	assert.ErrorIs(t, repo.Update(ctx, p), ErrProductNotFound)
}

func TestProductRepository_UnknownCategory(t *testing.T) {
	resetProducts(t)
	repo := NewProductRepository(testDB)
	ctx := context.Background()

	id, err := repo.NextID(ctx)
	require.NoError(t, err)

	err = repo.Create(ctx, &domain.Product{
		ID: id,
		ProductFields: domain.ProductFields{
			Name:             "Orphan",
			CategoryID:       987654,
			ShortDescription: "no category",
		},
	})
	assert.ErrorIs(t, err, ErrCategoryNotFound)
}

func TestProductRepository_NextIDIsUnique(t *testing.T) {
	repo := NewProductRepository(testDB)
	ctx := context.Background()

	seen := map[int64]bool{}
	for i := 0; i < 20; i++ {
		id, err := repo.NextID(ctx)
		require.NoError(t, err)
		assert.False(t, seen[id], "id %d reserved twice", id)
		seen[id] = true
	}
}

func TestProductRepository_QueryOrdersAndPages(t *testing.T) {
	resetProducts(t)
	repo := NewProductRepository(testDB)
	ctx := context.Background()

	iphone := newProduct(t, repo, "iPhone", "Electronics", 800)
	pixel := newProduct(t, repo, "Pixel 4", "Electronics", 600)
	sofa := newProduct(t, repo, "Sofa", "Furniture", 600)
	chess := newProduct(t, repo, "Chess", "Games", 20)

	ids := func(products []*domain.Product) []int64 {
		out := make([]int64, len(products))
		for i, p := range products {
			out[i] = p.ID
		}
		return out
	}

	tests := []struct {
		name      string
		sortOrder string
		page      int
		want      []int64
	}{
		{"name asc is bytewise", query.SortNameAsc, 1, []int64{chess.ID, pixel.ID, sofa.ID}},
		{"name asc page 2", query.SortNameAsc, 2, []int64{iphone.ID}},
		{"name desc", query.SortNameDesc, 1, []int64{iphone.ID, sofa.ID, pixel.ID}},
		{"price asc breaks ties by id", query.SortPriceAsc, 1, []int64{chess.ID, pixel.ID, sofa.ID}},
		{"price desc", query.SortPriceDesc, 1, []int64{iphone.ID, pixel.ID, sofa.ID}},
		{"category asc", query.SortCategoryAsc, 1, []int64{iphone.ID, pixel.ID, sofa.ID}},
		{"category desc", query.SortCategoryDesc, 1, []int64{chess.ID, sofa.ID, iphone.ID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := query.Build(query.Params{SortOrder: tt.sortOrder, Page: tt.page}, 3).Spec
			products, total, err := repo.Query(ctx, spec)
			require.NoError(t, err)
			assert.Equal(t, 4, total)
			assert.Equal(t, tt.want, ids(products))
			for _, p := range products {
				assert.NotNil(t, p.Category)
			}
		})
	}
}

func TestProductRepository_QueryFilters(t *testing.T) {
	resetProducts(t)
	repo := NewProductRepository(testDB)
	ctx := context.Background()

	iphone := newProduct(t, repo, "iPhone", "Electronics", 800)
	newProduct(t, repo, "Sofa", "Furniture", 600)
	chess := newProduct(t, repo, "Chess 100%", "Games", 20)

	_, err := testDB.Exec("UPDATE products SET short_description = 'A Shiny PHONE' WHERE id = $1", iphone.ID)
	require.NoError(t, err)

	tests := []struct {
		name     string
		search   string
		searchBy string
		want     []int64
	}{
		{"name is case sensitive", "phone", "name", nil},
		{"name substring", "Phone", "name", []int64{iphone.ID}},
		{"category substring", "Gam", "category", []int64{chess.ID}},
		{"category is case sensitive", "gam", "category", nil},
		{"description ignores case", "shiny phone", "description", []int64{iphone.ID}},
		{"wildcards match literally", "0%", "name", []int64{chess.ID}},
		{"underscore is literal", "_", "name", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := query.Build(query.Params{SearchString: tt.search, SearchBy: tt.searchBy}, 10).Spec
			products, total, err := repo.Query(ctx, spec)
			require.NoError(t, err)
			assert.Equal(t, len(tt.want), total)

			var got []int64
			for _, p := range products {
				got = append(got, p.ID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCatalogStore_WithinTxRollsBack(t *testing.T) {
	resetProducts(t)
	store := NewCatalogStore(testDB)
	ctx := context.Background()

	p := newProduct(t, store.Products(), "Lamp", "Furniture", 15)
	boom := errors.New("boom")

	err := store.WithinTx(ctx, func(tx CatalogStore) error {
		if err := tx.Products().Delete(ctx, p.ID); err != nil {
			return err
		}
		return tx.WithinTx(ctx, func(inner CatalogStore) error {
			return boom
		})
	})
	require.ErrorIs(t, err, boom)

	found, err := store.Products().FindAllByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, found, 1, "delete must be rolled back")

	err = store.WithinTx(ctx, func(tx CatalogStore) error {
		return tx.Products().Delete(ctx, p.ID)
	})
	require.NoError(t, err)

	found, err = store.Products().FindAllByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, found)
}
