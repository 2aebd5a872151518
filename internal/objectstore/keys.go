package objectstore

import "fmt"

// OriginalKey returns the key for the raw uploaded document under pdfs/.
func OriginalKey(uploadID, ext string) string {
	return fmt.Sprintf("%s/original.%s", uploadID, ext)
}

// PageKey returns the key for a rendered page PNG under pages/, 1-based and
// zero-padded to 3 digits per spec §4.4 step 1.
func PageKey(uploadID string, pageNum int) string {
	return fmt.Sprintf("%s/page_%03d.png", uploadID, pageNum)
}

// OutputKey returns the key for the cached extraction CSV under output/.
func OutputKey(uploadID string) string {
	return fmt.Sprintf("%s.csv", uploadID)
}
