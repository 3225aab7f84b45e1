package models

// BlobReference replaces a nested binary/large payload in a stored result
// (§3). The referenced object exists in the blob store until the owning
// task is deleted.
type BlobReference struct {
	Type string        `json:"type" bson:"type"`
	Data BlobReferenceData `json:"data" bson:"data"`
}

type BlobReferenceData struct {
	BucketName string `json:"bucket_name" bson:"bucket_name"`
	ObjectName string `json:"object_name" bson:"object_name"`
	Extension  string `json:"extension" bson:"extension"`
}

const BlobReferenceType = "reference"

// NewBlobReference builds the canonical reference value for an offloaded
// object.
func NewBlobReference(bucket, object, extension string) BlobReference {
	return BlobReference{
		Type: BlobReferenceType,
		Data: BlobReferenceData{
			BucketName: bucket,
			ObjectName: object,
			Extension:  extension,
		},
	}
}
