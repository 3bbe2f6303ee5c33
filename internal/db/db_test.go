package db

import (
	"strings"
	"testing"

	"github.com/jonathan/onboarding-verifier/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations_Embedded(t *testing.T) {
	migrations, err := Migrations()
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	assert.Equal(t, "001_documents", migrations[0].Version)
	assert.Equal(t, "002_notifications_tasks", migrations[1].Version)
	assert.Contains(t, migrations[0].SQL, "CREATE TABLE IF NOT EXISTS documents")
	assert.Contains(t, migrations[1].SQL, "CREATE TABLE IF NOT EXISTS notifications")
}

func TestMigrations_KindConstraintCoversEveryKind(t *testing.T) {
	migrations, err := Migrations()
	require.NoError(t, err)

	for _, kind := range types.AllKinds() {
		assert.True(t, strings.Contains(migrations[0].SQL, "'"+string(kind)+"'"), "kind %s missing from CHECK constraint", kind)
	}
}

func TestFindingsJSON(t *testing.T) {
	data, err := marshalFindings(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	in := []types.Finding{
		{Field: "amount", Severity: types.SeverityError, Message: "amount is missing"},
		{Field: "receiptNumber", Severity: types.SeverityWarning, Message: "receiptNumber is missing", Resolved: true},
	}
	data, err = marshalFindings(in)
	require.NoError(t, err)

	out, err := unmarshalFindings(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	empty, err := unmarshalFindings(nil)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	_, err = unmarshalFindings([]byte("{"))
	assert.Error(t, err)
}

func TestExtractionJSON(t *testing.T) {
	data, err := marshalExtraction(nil)
	require.NoError(t, err)
	assert.Nil(t, data)

	rec, err := unmarshalExtraction(nil)
	require.NoError(t, err)
	assert.Nil(t, rec)

	in := &types.ExtractionRecord{
		Fields:  map[string]string{"idNumber": "X123"},
		RawText: "X123",
		Artifact: types.ArtifactMetadata{
			MediaType: "image/png", SizeBytes: 12, SHA256: "abc", QualityScore: 90,
		},
	}
	data, err = marshalExtraction(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"quality_score":90`)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 100, clampLimit(0))
	assert.Equal(t, 100, clampLimit(-5))
	assert.Equal(t, 25, clampLimit(25))
	assert.Equal(t, 100, clampLimit(10000))
}
