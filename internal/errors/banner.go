package errors

import (
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// bannerKey prefixes catalog keys so codes never collide with other messages
// registered in the default catalog.
const bannerKey = "banner."

var banners = map[Code]string{
	CodeValidationFailed:     "Please correct the highlighted fields before submitting.",
	CodeDuplicateName:        "A work with this name already exists.",
	CodeConstraintDuplicate:  "A work with this name already exists.",
	CodeConstraintForeignKey: "One of the selected locations or catalog items no longer exists.",
	CodePartialPersistence:   "The work was saved, but some of its details could not be saved.",
	CodeTransport:            "The server could not be reached. Please try again.",
	CodeNotFound:             "The requested record was not found.",
	CodeInternal:             "A database error occurred while saving the work.",
	CodeUnknown:              "Something went wrong while saving the work. Please try again.",
}

var registerOnce sync.Once

func register() {
	for code, msg := range banners {
		_ = message.SetString(language.English, bannerKey+string(code), msg)
	}
}

// Banner returns the single user-visible sentence for an error code. Codes
// without a dedicated phrase fall through to the generic message.
func Banner(code Code) string {
	registerOnce.Do(register)
	if _, ok := banners[code]; !ok {
		code = CodeUnknown
	}
	return message.NewPrinter(language.English).Sprintf(bannerKey + string(code))
}

// BannerFor returns the banner for err.
func BannerFor(err error) string {
	return Banner(CodeOf(err))
}
