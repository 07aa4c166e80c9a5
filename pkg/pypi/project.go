package pypi

import "encoding/json"

// Project is a project page of the simple repository API (PEP 691).
type Project struct {
	Meta  Meta          `json:"meta"`
	Name  string        `json:"name"`
	Files []ProjectFile `json:"files"`
}

// Meta carries the repository API version of a response.
type Meta struct {
	APIVersion string `json:"api-version"`
}

// ProjectFile is one downloadable file of a project: an sdist or a wheel.
type ProjectFile struct {
	Filename       string            `json:"filename"`
	URL            string            `json:"url"`
	Hashes         map[string]string `json:"hashes"`
	RequiresPython string            `json:"requires-python"`
	CoreMetadata   CoreMetadata      `json:"core-metadata"`
	GPGSig         bool              `json:"gpg-sig"`
	Yanked         Yanked            `json:"yanked"`
}

// Yanked reports whether a file was yanked (PEP 592). The index serves the
// field as false, true, or the reason string the uploader gave.
type Yanked struct {
	Value  bool
	Reason string
}

func (y *Yanked) UnmarshalJSON(b []byte) error {
	var flag bool
	if err := json.Unmarshal(b, &flag); err == nil {
		*y = Yanked{Value: flag}
		return nil
	}
	var reason string
	if err := json.Unmarshal(b, &reason); err != nil {
		return err
	}
	*y = Yanked{Value: true, Reason: reason}
	return nil
}

// CoreMetadata reports whether the file's core metadata is separately
// available (PEP 658). The index serves the field as false, true, or an
// object of hashes of the metadata file.
type CoreMetadata struct {
	Available bool
	Hashes    map[string]string
}

func (m *CoreMetadata) UnmarshalJSON(b []byte) error {
	var flag bool
	if err := json.Unmarshal(b, &flag); err == nil {
		*m = CoreMetadata{Available: flag}
		return nil
	}
	var hashes map[string]string
	if err := json.Unmarshal(b, &hashes); err != nil {
		return err
	}
	*m = CoreMetadata{Available: true, Hashes: hashes}
	return nil
}
