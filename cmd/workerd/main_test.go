package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStringFromEnvPrefersSetValue(t *testing.T) {
	t.Setenv("WORKERD_TEST_STRING", "from-env")
	require.Equal(t, "from-env", stringFromEnv("WORKERD_TEST_STRING", "fallback"))
}

func TestStringFromEnvFallsBackWhenUnsetOrBlank(t *testing.T) {
	require.Equal(t, "fallback", stringFromEnv("WORKERD_TEST_STRING_UNSET", "fallback"))

	t.Setenv("WORKERD_TEST_STRING_BLANK", "   ")
	require.Equal(t, "fallback", stringFromEnv("WORKERD_TEST_STRING_BLANK", "fallback"))
}

func TestBoolFromEnvParsesKnownValues(t *testing.T) {
	t.Setenv("WORKERD_TEST_BOOL", "false")
	require.False(t, boolFromEnv("WORKERD_TEST_BOOL", true))

	t.Setenv("WORKERD_TEST_BOOL", "true")
	require.True(t, boolFromEnv("WORKERD_TEST_BOOL", false))
}

func TestBoolFromEnvFallsBackOnUnsetOrInvalid(t *testing.T) {
	require.True(t, boolFromEnv("WORKERD_TEST_BOOL_UNSET", true))

	t.Setenv("WORKERD_TEST_BOOL_INVALID", "not-a-bool")
	require.True(t, boolFromEnv("WORKERD_TEST_BOOL_INVALID", true))
}
