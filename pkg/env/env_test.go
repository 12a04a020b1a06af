package env_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fitglue/workoutsync/pkg/env"
)

func TestString(t *testing.T) {
	t.Setenv("TEST_STRING", "hello")
	t.Setenv("TEST_EMPTY_STRING", "")
	assert.Equal(t, "hello", env.String("TEST_STRING", "default"))
	assert.Equal(t, "default", env.String("TEST_EMPTY_STRING", "default"))
	assert.Equal(t, "default", env.String("NON_EXISTENT_STRING", "default"))
}

func TestInt(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "many")
	assert.Equal(t, 42, env.Int("TEST_INT", 100))
	assert.Equal(t, 100, env.Int("TEST_BAD_INT", 100))
	assert.Equal(t, 100, env.Int("NON_EXISTENT_INT", 100))
}

func TestBool(t *testing.T) {
	tests := []struct {
		val  string
		def  bool
		want bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"TRUE", false, true},
		{"false", true, false},
		{"0", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.val, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.val)
			assert.Equal(t, tt.want, env.Bool("TEST_BOOL", tt.def))
		})
	}
	assert.False(t, env.Bool("NON_EXISTENT_BOOL", false))
}

func TestDuration(t *testing.T) {
	t.Setenv("TEST_DURATION", "2h45m")
	t.Setenv("TEST_BAD_DURATION", "soon")
	assert.Equal(t, 2*time.Hour+45*time.Minute, env.Duration("TEST_DURATION", time.Minute))
	assert.Equal(t, time.Minute, env.Duration("TEST_BAD_DURATION", time.Minute))
	assert.Equal(t, time.Minute, env.Duration("NON_EXISTENT_DURATION", time.Minute))
}

func TestList(t *testing.T) {
	t.Setenv("TEST_LIST", " read, activity:read_all ,,")
	t.Setenv("TEST_EMPTY_LIST", " , ")
	assert.Equal(t, []string{"read", "activity:read_all"}, env.List("TEST_LIST", nil))
	assert.Equal(t, []string{"x"}, env.List("TEST_EMPTY_LIST", []string{"x"}))
	assert.Nil(t, env.List("NON_EXISTENT_LIST", nil))
}
