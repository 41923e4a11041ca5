package catalog

import (
	"context"
	"testing"
	"tourbook/src/db"
	"tourbook/src/models"
	"tourbook/src/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormCatalog(t *testing.T) {
	gdb, err := db.OpenSQLite("file:catalogtest?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&models.Tour{}, &models.Product{}))

	tour := models.Tour{
		Name:          "Old Town Walk",
		PricePerAdult: 10000,
		PricePerChild: 7000,
		Currency:      "usd",
		MaxCapacity:   20,
		StartTime:     "09:00",
		Active:        true,
		AddOns:        types.AddOnList{{ID: "lunch", Name: "Lunch", Price: 1500}},
	}
	require.NoError(t, gdb.Create(&tour).Error)
	require.NoError(t, gdb.Create(&models.Product{Name: "Map", Price: 500, Stock: 3}).Error)

	c := NewGormCatalog(gdb)
	ctx := context.Background()

	got, err := c.Tour(ctx, tour.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, got.MaxCapacity)
	addOn, ok := got.AddOn("lunch")
	assert.True(t, ok)
	assert.Equal(t, int64(1500), addOn.Price)

	_, err = c.Tour(ctx, 999)
	assert.ErrorIs(t, err, ErrTourNotFound)

	_, err = c.Product(ctx, 999)
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestMemoryCatalog(t *testing.T) {
	c := NewMemoryCatalog().
		AddTour(models.Tour{ID: 1, MaxCapacity: 5}).
		AddProduct(models.Product{ID: 2, Stock: 1})

	tour, err := c.Tour(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 5, tour.MaxCapacity)

	_, err = c.Tour(context.Background(), 3)
	assert.ErrorIs(t, err, ErrTourNotFound)

	p, err := c.Product(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Stock)
}

func TestCapacityOf(t *testing.T) {
	c := NewMemoryCatalog().AddTour(models.Tour{ID: 4, MaxCapacity: 12})
	capacity := CapacityOf(c)

	n, err := capacity(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	_, err = capacity(context.Background(), 99)
	assert.ErrorIs(t, err, ErrTourNotFound)
}
