package vfsswitch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry(t *testing.T) {
	assert := Assert{assert.New(t)}
	registry := NewRegistry()

	_, err := registry.Lookup("ramfs")
	assert.ErrorIs(err, ErrNotFound)

	first := newRecordBackend()
	registry.Register("ramfs", first)
	registry.Register("bare", openOnly{})
	registry.Register("ramfs", newRecordBackend())
	assert.Equal([]string{"ramfs", "bare", "ramfs"}, registry.Names())

	// When names are shared, the first one wins.
	driver, err := registry.Lookup("ramfs")
	assert.NoError(err)
	assert.Equal("ramfs", driver.Name())
	assert.Same(first, driver.Backend())
	assert.NotNil(driver.mkfs)
	assert.NotNil(driver.stat)
	assert.NotNil(driver.getdents)

	bare, err := registry.Lookup("bare")
	assert.NoError(err)
	assert.NotNil(bare.open)
	assert.NotNil(bare.close)
	assert.Nil(bare.mkfs)
	assert.Nil(bare.read)
	assert.Nil(bare.write)
	assert.Nil(bare.lseek)
	assert.Nil(bare.stat)

	assert.Panics(func() { registry.Register("nil", nil) })
}
