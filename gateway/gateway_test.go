package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardForGuild(t *testing.T) {
	// 197038439483310086 >> 22 == 46977624770, and 46977624770 % 16 == 2,
	// per the documented sharding formula.
	assert.Equal(t, 2, ShardForGuild("197038439483310086", 16))

	assert.Equal(t, 0, ShardForGuild("197038439483310086", 1))
	assert.Equal(t, 0, ShardForGuild("not-a-snowflake", 16))
	assert.Equal(t, 0, ShardForGuild("", 4))
}
