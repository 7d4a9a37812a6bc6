package fulfill

import "regexp"

// Class is the disposition of one fulfillment attempt.
type Class int

const (
	// ClassSuccess means the upstream accepted the order.
	ClassSuccess Class = iota
	// ClassDuplicate means the upstream already holds the document; the
	// order counts as completed without resubmission.
	ClassDuplicate
	// ClassRecoverable means the attempt failed but may succeed later.
	ClassRecoverable
	// ClassPermanent means retrying cannot help.
	ClassPermanent
)

// The upstream ERP reports failures in Vietnamese error strings. Two shapes
// matter: a document that was already entered, and product codes it does not
// recognize.
var (
	duplicateDocumentPattern = regexp.MustCompile(`Chứng từ\s+.+?\s+đã nhập\.`)
	unknownProductPattern    = regexp.MustCompile(`Mã hàng\s+([^\s]+(?:\s+[^\s]+)*?)\s+không tồn tại trong hệ thống`)
)

// HTTP statuses the upstream returns for conditions that clear up on their
// own (auth token rotation, missing master data, outages).
var recoverableStatuses = map[int]bool{
	400: true, 401: true, 403: true, 404: true,
	500: true, 502: true, 503: true, 504: true,
}

// IsDuplicateDocument reports whether the error code says the document was
// already entered upstream.
func IsDuplicateDocument(errorCode string) bool {
	return duplicateDocumentPattern.MatchString(errorCode)
}

// ExtractUnknownCodes pulls the product codes the upstream rejected as
// missing from its catalog out of an error string.
func ExtractUnknownCodes(errorCode string) []string {
	matches := unknownProductPattern.FindAllStringSubmatch(errorCode, -1)
	if len(matches) == 0 {
		return nil
	}
	codes := make([]string, 0, len(matches))
	for _, m := range matches {
		codes = append(codes, m[1])
	}
	return codes
}

// classifyStatus maps an HTTP status to an attempt class.
func classifyStatus(status int) Class {
	if status >= 200 && status < 300 {
		return ClassSuccess
	}
	if recoverableStatuses[status] {
		return ClassRecoverable
	}
	return ClassPermanent
}
