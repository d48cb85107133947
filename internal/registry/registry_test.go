package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnsurer struct {
	ensured []string
	fail    map[string]bool
}

func (f *fakeEnsurer) EnsureSchema(ctx context.Context, resourceType string) error {
	if f.fail[resourceType] {
		return assert.AnError
	}
	f.ensured = append(f.ensured, resourceType)
	return nil
}

func newTestRegistry(e *fakeEnsurer) *Registry {
	r := &Registry{store: e, ReloadCh: make(chan struct{}, 1)}
	r.current.Store(emptySnapshot())
	return r
}

func TestRegister_LooksUpByResourceTypeAndCode(t *testing.T) {
	r := newTestRegistry(&fakeEnsurer{})
	ctx := context.Background()

	err := r.Register(ctx, &SearchParameter{
		Code: "name", Base: []string{"Patient"}, Type: TypeString, Expression: "Patient.name",
	})
	require.NoError(t, err)

	p, ok := r.Lookup("Patient", "name")
	require.True(t, ok)
	assert.Equal(t, TypeString, p.Type)

	_, ok = r.Lookup("Observation", "name")
	assert.False(t, ok)
}

func TestRegister_EnsuresSchemaOncePerResourceType(t *testing.T) {
	e := &fakeEnsurer{}
	r := newTestRegistry(e)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, &SearchParameter{Code: "name", Base: []string{"Patient"}, Type: TypeString}))
	require.NoError(t, r.Register(ctx, &SearchParameter{Code: "family", Base: []string{"Patient"}, Type: TypeString}))

	assert.Equal(t, []string{"Patient"}, e.ensured)
}

func TestRegister_SkipsSchemaForResourceWildcardBase(t *testing.T) {
	e := &fakeEnsurer{}
	r := newTestRegistry(e)

	require.NoError(t, r.Register(context.Background(), &SearchParameter{Code: "_id", Base: []string{"Resource"}, Type: TypeToken}))
	assert.Empty(t, e.ensured)
}

func TestRegister_PropagatesSchemaError(t *testing.T) {
	e := &fakeEnsurer{fail: map[string]bool{"Patient": true}}
	r := newTestRegistry(e)

	err := r.Register(context.Background(), &SearchParameter{Code: "name", Base: []string{"Patient"}, Type: TypeString})
	assert.Error(t, err)

	_, ok := r.Lookup("Patient", "name")
	assert.False(t, ok, "a failed registration must not be visible to readers")
}

func TestReload_ReplacesEntireSnapshot(t *testing.T) {
	r := newTestRegistry(&fakeEnsurer{})
	ctx := context.Background()
	require.NoError(t, r.Register(ctx, &SearchParameter{Code: "stale", Base: []string{"Patient"}, Type: TypeString}))

	require.NoError(t, r.Reload(ctx, []*SearchParameter{
		{Code: "name", Base: []string{"Patient"}, Type: TypeString},
	}))

	_, ok := r.Lookup("Patient", "stale")
	assert.False(t, ok, "Reload must drop parameters absent from the new set")
	_, ok = r.Lookup("Patient", "name")
	assert.True(t, ok)
}

func TestForType_IncludesResourceWildcardParameters(t *testing.T) {
	r := newTestRegistry(&fakeEnsurer{})
	ctx := context.Background()
	require.NoError(t, r.Register(ctx, &SearchParameter{Code: "_id", Base: []string{"Resource"}, Type: TypeToken}))
	require.NoError(t, r.Register(ctx, &SearchParameter{Code: "name", Base: []string{"Patient"}, Type: TypeString}))

	params := r.ForType("Patient")
	codes := map[string]bool{}
	for _, p := range params {
		codes[p.Code] = true
	}
	assert.True(t, codes["_id"])
	assert.True(t, codes["name"])
}

func TestRegister_NotifiesReloadChannelWithoutBlocking(t *testing.T) {
	r := newTestRegistry(&fakeEnsurer{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Register(ctx, &SearchParameter{Code: "name", Base: []string{"Patient"}, Type: TypeString}))
	}

	select {
	case <-r.ReloadCh:
	default:
		t.Fatal("expected a reload notification")
	}
}

func TestRegister_RejectsMissingCodeOrBase(t *testing.T) {
	r := newTestRegistry(&fakeEnsurer{})
	ctx := context.Background()

	assert.Error(t, r.Register(ctx, &SearchParameter{Base: []string{"Patient"}, Type: TypeString}))
	assert.Error(t, r.Register(ctx, &SearchParameter{Code: "name", Type: TypeString}))
}

func TestByURL_FindsRegisteredParameter(t *testing.T) {
	r := newTestRegistry(&fakeEnsurer{})
	ctx := context.Background()
	require.NoError(t, r.Register(ctx, &SearchParameter{
		Code: "name", URL: "http://hl7.org/fhir/SearchParameter/Patient-name", Base: []string{"Patient"}, Type: TypeString,
	}))

	p, ok := r.ByURL("http://hl7.org/fhir/SearchParameter/Patient-name")
	require.True(t, ok)
	assert.Equal(t, "name", p.Code)
}

func TestDefaultSearchParameters_CoverEveryTypeExceptNumber(t *testing.T) {
	seen := make(map[SearchParamType]bool)
	for _, p := range DefaultSearchParameters() {
		seen[p.Type] = true
	}
	assert.True(t, seen[TypeString])
	assert.True(t, seen[TypeToken])
	assert.True(t, seen[TypeDate])
	assert.True(t, seen[TypeReference])
	assert.True(t, seen[TypeQuantity])
	assert.True(t, seen[TypeComposite])
	assert.True(t, seen[TypeURI])
	assert.True(t, seen[TypeSpecial])
}
