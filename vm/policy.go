package vm

import "fmt"

// PageClass describes the ownership of a page being entered. It replaces
// inspecting the page and its backing object at every call site.
type PageClass struct {
	PPN PPN

	// Internal is set for pages of anonymous (internal) objects.
	Internal bool

	// Reusable is set when the page itself was marked reusable.
	Reusable bool

	// ObjectAllReusable is set when the whole backing object is reusable.
	ObjectAllReusable bool

	// Error marks a page whose contents could not be produced. Such a page
	// must never be mapped.
	Error bool
}

// EnterOptions derives the accounting option bits for entering a page of
// the given class, merged with the caller's own options.
func EnterOptions(class PageClass, options Options) Options {
	if class.Error {
		panic(fmt.Sprintf("page %#x should not have an error", class.PPN))
	}

	if class.Internal {
		options |= OptionInternal
	}

	if class.Reusable || class.ObjectAllReusable {
		options |= OptionReusable
	}

	return options
}
