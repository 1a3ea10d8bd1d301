package domain

// Defaults applied by the catalog normalizer when the upstream payload omits
// a field. They are applied exactly once, at extraction time; downstream code
// may assume every Product field is populated.
const (
	DefaultPrice = "168.00"
	DefaultBrand = "MODESTY"
)

// Product is a fully-populated catalog entry. The upstream webhook returns
// loosely-structured records with inconsistent field names; only the
// normalizer constructs Products.
type Product struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ImageRef     string `json:"image"`
	ThumbnailRef string `json:"thumbnail"`
	Price        string `json:"price"`
	Brand        string `json:"brand"`
	PurchaseURL  string `json:"url,omitempty"`
}

// UploadedPhoto is the user's source image, held in memory for the lifetime
// of a workflow. It is never persisted or uploaded on its own.
type UploadedPhoto struct {
	MIME string
	Data []byte
}

// Size returns the decoded payload size in bytes.
func (p UploadedPhoto) Size() int64 {
	return int64(len(p.Data))
}

// TryOnResult is the image produced by the external generation call,
// associated with the product that produced it.
type TryOnResult struct {
	ImageRef string  `json:"image"`
	Product  Product `json:"product"`
}
