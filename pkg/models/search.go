// Package models contains shared data models used across the sourcefinder codebase.
package models

import "fmt"

// SearchMode selects the BLAST program run by the remote search service.
type SearchMode string

const (
	SearchModeBlastn  SearchMode = "blastn"
	SearchModeBlastp  SearchMode = "blastp"
	SearchModeBlastx  SearchMode = "blastx"
	SearchModeTblastn SearchMode = "tblastn"
	SearchModeTblastx SearchMode = "tblastx"
)

// SearchModes lists every supported mode in presentation order.
var SearchModes = []SearchMode{
	SearchModeBlastn,
	SearchModeBlastp,
	SearchModeBlastx,
	SearchModeTblastn,
	SearchModeTblastx,
}

func (m SearchMode) Valid() bool {
	for _, v := range SearchModes {
		if v == m {
			return true
		}
	}
	return false
}

// Database selects the reference collection searched against.
type Database string

const (
	DatabaseNT            Database = "nt"
	DatabaseNR            Database = "nr"
	DatabaseRefseqRNA     Database = "refseq_rna"
	DatabaseRefseqProtein Database = "refseq_protein"
	DatabaseSwissprot     Database = "swissprot"
	DatabaseCoreNT        Database = "core_nt"
)

// Databases lists every supported database in presentation order.
var Databases = []Database{
	DatabaseNT,
	DatabaseNR,
	DatabaseRefseqRNA,
	DatabaseRefseqProtein,
	DatabaseSwissprot,
	DatabaseCoreNT,
}

func (d Database) Valid() bool {
	for _, v := range Databases {
		if v == d {
			return true
		}
	}
	return false
}

// Query holds the immutable parameters of a search, captured at submit time.
type Query struct {
	Sequence   string     `json:"sequence"`
	SearchMode SearchMode `json:"search_mode"`
	Database   Database   `json:"database"`
}

// Validate checks the enumerated fields. The sequence itself is passed through
// untouched; the remote service is the authority on what it accepts.
func (q Query) Validate() error {
	if !q.SearchMode.Valid() {
		return fmt.Errorf("search_mode must be one of %v; got %q", SearchModes, q.SearchMode)
	}
	if !q.Database.Valid() {
		return fmt.Errorf("database must be one of %v; got %q", Databases, q.Database)
	}
	return nil
}

// MaxTopHits caps the number of hits kept from a result.
const MaxTopHits = 10

// Hit is one ranked match reported by the search service.
type Hit struct {
	Title           string `json:"title"`
	PublicationLink string `json:"publication_link"`
}

// ResultBundle is the outcome of a completed search. TopHits keeps the
// service's relevance order.
type ResultBundle struct {
	Summary       string `json:"summary"`
	TreeImageURL  string `json:"tree_image_url"`
	FullResultURL string `json:"full_result_url"`
	TopHits       []Hit  `json:"top_hits"`
}
