package dispatcher

import (
	"encoding/json"

	"github.com/BetterCallFirewall/authlandscape/internal/models"
)

// blobReferencesIn finds every models.BlobReference nested-alter (§9) left
// behind inside result, regardless of which field or how deep it sits — the
// same recognized-key offload can land under LoginPageCandidate.Info,
// IdentityProviderDetection.IdPScreenshot/IdPHAR, or top-level MetadataData,
// and a generic walk over the marshaled document is simpler than chasing
// each typed field individually.
func blobReferencesIn(result models.TaskResult) []models.BlobReference {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil
	}

	var refs []models.BlobReference
	walkGeneric(generic, &refs)
	return refs
}

func walkGeneric(node any, refs *[]models.BlobReference) {
	switch v := node.(type) {
	case map[string]any:
		if ref, ok := asBlobReference(v); ok {
			*refs = append(*refs, ref)
			return
		}
		for _, child := range v {
			walkGeneric(child, refs)
		}
	case []any:
		for _, child := range v {
			walkGeneric(child, refs)
		}
	}
}

func asBlobReference(v map[string]any) (models.BlobReference, bool) {
	if v["type"] != models.BlobReferenceType {
		return models.BlobReference{}, false
	}
	data, ok := v["data"].(map[string]any)
	if !ok {
		return models.BlobReference{}, false
	}
	bucket, _ := data["bucket_name"].(string)
	object, _ := data["object_name"].(string)
	extension, _ := data["extension"].(string)
	if bucket == "" || object == "" {
		return models.BlobReference{}, false
	}
	return models.NewBlobReference(bucket, object, extension), true
}
