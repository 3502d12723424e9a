package scope_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gridhq/gridauth/internal/scope"
)

func TestParse(t *testing.T) {
	require.Equal(t, scope.Set{"user", "user:info"}, scope.Parse("user,user:info"))
	require.Equal(t, scope.Set{"user", "user:info"}, scope.Parse(" user , user:info "))
	require.Equal(t, scope.Set{"user"}, scope.Parse("user,,user"))
	require.Equal(t, scope.Set{}, scope.Parse(""))
	require.Equal(t, scope.Set{}, scope.Parse("   "))
}

func TestFromList(t *testing.T) {
	require.Equal(t, scope.Set{"a", "b"}, scope.FromList([]string{"a", "", "b", "a"}))
}

func TestHas(t *testing.T) {
	s := scope.Parse("user,user:info")
	require.True(t, s.Has("user"))
	require.True(t, s.Has("missing", "user:info"))
	require.False(t, s.Has("admin"))
	require.False(t, scope.Set{}.Has("user"))
}

func TestIntersect(t *testing.T) {
	original := scope.Parse("a,b,c")
	require.Equal(t, scope.Set{"a", "c"}, original.Intersect(scope.Parse("a,c")))
	require.Equal(t, scope.Set{}, original.Intersect(scope.Parse("d")))
	// Requested scopes outside the original set are dropped, not an error.
	require.Equal(t, scope.Set{"a"}, original.Intersect(scope.Parse("a,z")))
}

func TestSubset(t *testing.T) {
	allowed := scope.Parse("user,user:info")
	require.True(t, scope.Parse("user").Subset(allowed))
	require.True(t, scope.Set{}.Subset(allowed))
	require.False(t, scope.Parse("user,admin").Subset(allowed))
}

func TestString(t *testing.T) {
	require.Equal(t, "user,user:info", scope.Parse("user, user:info").String())
	require.Equal(t, "", scope.Set{}.String())
}
