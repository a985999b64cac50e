package vector

import (
	"testing"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatasetExpr(t *testing.T) {
	assert.Equal(t, "", datasetExpr(nil))
	assert.Equal(t, `dataset_name in ["VC-Clothes"]`, datasetExpr([]string{"VC-Clothes"}))
	assert.Equal(t, `dataset_name in ["a", "b \"quoted\""]`, datasetExpr([]string{"a", `b "quoted"`}))
}

func TestMilvusSchema(t *testing.T) {
	s := milvusSchema("people", 1152)
	assert.Equal(t, "people", s.CollectionName)
	require.Len(t, s.Fields, 5)
	assert.True(t, s.Fields[0].PrimaryKey)
	assert.Equal(t, entity.FieldTypeFloatVector, s.Fields[1].DataType)
	assert.Equal(t, "1152", s.Fields[1].TypeParams["dim"])
	assert.Equal(t, entity.FieldTypeJSON, s.Fields[4].DataType)
}

func TestRowPayload(t *testing.T) {
	cols := []entity.Column{
		entity.NewColumnVarChar(milvusFieldID, []string{"a", "b"}),
		entity.NewColumnVarChar(FieldDatasetName, []string{"ds1", "ds2"}),
		entity.NewColumnVarChar(FieldPath, []string{"/p/a.jpg", "/p/b.jpg"}),
		entity.NewColumnJSONBytes(FieldMetadata, [][]byte{[]byte(`{"person_id":"1"}`), []byte(`{"person_id":"2"}`)}),
	}
	id, p, err := rowPayload(cols, 1)
	require.NoError(t, err)
	assert.Equal(t, "b", id)
	assert.Equal(t, "ds2", p.DatasetName)
	assert.Equal(t, "/p/b.jpg", p.Path)
	assert.Equal(t, "2", p.Metadata["person_id"])
}

func TestRowPayload_badMetadata(t *testing.T) {
	cols := []entity.Column{
		entity.NewColumnVarChar(milvusFieldID, []string{"a"}),
		entity.NewColumnVarChar(FieldPath, []string{"/p/a.jpg"}),
		entity.NewColumnJSONBytes(FieldMetadata, [][]byte{[]byte(`{"person_id":`)}),
	}
	id, p, err := rowPayload(cols, 0)
	assert.Error(t, err)
	assert.Equal(t, "a", id)
	assert.Equal(t, "/p/a.jpg", p.Path)
	assert.NotNil(t, p.Metadata)
	assert.Empty(t, p.Metadata)
}
