package selector_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigreer/metalforge/internal/blockdev"
	"github.com/sigreer/metalforge/internal/selector"
)

func candidates() []blockdev.BlockDevice {
	return []blockdev.BlockDevice{
		{Path: "/dev/sda", SizeBytes: 500107862016, Model: "Samsung SSD 860", Kind: blockdev.KindDisk},
		{Path: "/dev/sdb", SizeBytes: 1000204886016, Model: "WD Blue", Kind: blockdev.KindDisk},
	}
}

func TestChooseReturnsCandidateByOneIndexedNumber(t *testing.T) {
	var out strings.Builder
	sel := selector.New(strings.NewReader("2\n"), &out)

	chosen, err := sel.Choose("Select a disk:", candidates(), false)
	require.NoError(t, err)
	require.NotNil(t, chosen)
	assert.Equal(t, "/dev/sdb", chosen.Path)
	assert.Contains(t, out.String(), "1) /dev/sda")
	assert.Contains(t, out.String(), "2) /dev/sdb")
}

func TestChooseRepromptsOnInvalidInput(t *testing.T) {
	var out strings.Builder
	sel := selector.New(strings.NewReader("abc\n9\n0\n1\n"), &out)

	chosen, err := sel.Choose("Select a disk:", candidates(), false)
	require.NoError(t, err)
	require.NotNil(t, chosen)
	assert.Equal(t, "/dev/sda", chosen.Path)
	// Without allowNone, 0 is out of range too.
	assert.Contains(t, out.String(), "between 1 and 2")
	assert.Contains(t, out.String(), "enter a number from the list")
}

func TestChooseNone(t *testing.T) {
	var out strings.Builder
	sel := selector.New(strings.NewReader("0\n"), &out)

	chosen, err := sel.Choose("Select a volume:", candidates(), true)
	require.NoError(t, err)
	assert.Nil(t, chosen)
	assert.Contains(t, out.String(), "0) none")
}

func TestChooseEmptyCandidatesFails(t *testing.T) {
	sel := selector.New(strings.NewReader(""), &strings.Builder{})

	_, err := sel.Choose("Select a disk:", nil, false)
	assert.Error(t, err)
}

func TestChooseExhaustedInputFails(t *testing.T) {
	sel := selector.New(strings.NewReader("bogus\n"), &strings.Builder{})

	_, err := sel.Choose("Select a disk:", candidates(), false)
	assert.Error(t, err, "input ran out before a valid choice was made")
}
