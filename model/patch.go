package model

// PatchOperation selects how a field change is applied
type PatchOperation string

const (
	// PatchReplace overwrites the field value
	PatchReplace PatchOperation = "replace"
	// PatchAddToSet unions values into a multivalued field
	PatchAddToSet PatchOperation = "add-to-set"
	// PatchRemoveFromSet subtracts values from a multivalued field
	PatchRemoveFromSet PatchOperation = "remove-from-set"
)

// KnownPatchOperation reports whether op is a declared patch operation
func KnownPatchOperation(op PatchOperation) bool {
	switch op {
	case PatchReplace, PatchAddToSet, PatchRemoveFromSet:
		return true
	}
	return false
}

// FieldChange is a single edit applied by a field patch
type FieldChange struct {
	Field     string         `json:"field"`
	Operation PatchOperation `json:"operation"`
	Value     interface{}    `json:"value"`
}
