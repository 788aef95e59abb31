// Package manifest loads batch scan manifests. A manifest lists several
// sources, each with its own query, which are scanned with bounded
// concurrency by one reposcan invocation.
//
// # Manifest Format
//
// Manifests can be written in YAML or JSON format:
//
//	sources:
//	  - url: https://example.com/release.tar.gz
//	    query: "password ="
//	  - url: https://github.com/org/repo
//	    kind: clone
//	    ref: develop
//	    keywords: [TODO, FIXME]
//	    ignore: ["vendor/"]
//	options:
//	  continue_on_error: true
//	  concurrency: 2
//	  output: ./reports
//	  format: json
//
// A source without a query runs keyword analysis; without keywords it
// counts the default keyword set.
//
// # Error Handling
//
// The package defines sentinel errors for common failure cases:
//   - ErrNoSources: manifest has no sources defined
//   - ErrEmptyURL: source is missing required URL field
//   - ErrInvalidKind: source kind is neither archive nor clone
//   - ErrInvalidFormat: file is not valid YAML/JSON
//   - ErrFileNotFound: manifest file does not exist
//   - ErrUnsupportedExt: unsupported file extension
package manifest
