package snapshot

// Result is the change-detection verdict for one scrape.
type Result struct {
	IsFirstScrape bool
	HasChanges    bool
	Changes       []Change
	NewHash       string
	OldHash       string
	Payload       []byte // canonical serialization of the new list
}

// Detect runs the hash fast path and the diff slow path against the prior
// snapshot payload. A missing prior payload is the first scrape: it has
// changes by definition but emits no change entries.
func Detect(prevPayload []byte, prevHash string, current []Canonical) (Result, error) {
	newHash, payload, err := Hash(current)
	if err != nil {
		return Result{}, err
	}

	if len(prevPayload) == 0 {
		return Result{
			IsFirstScrape: true,
			HasChanges:    true,
			NewHash:       newHash,
			Payload:       payload,
		}, nil
	}

	if newHash == prevHash {
		return Result{
			HasChanges: false,
			NewHash:    newHash,
			OldHash:    prevHash,
			Payload:    payload,
		}, nil
	}

	old, err := Unmarshal(prevPayload)
	if err != nil {
		return Result{}, err
	}
	return Result{
		HasChanges: true,
		Changes:    Diff(old, current),
		NewHash:    newHash,
		OldHash:    prevHash,
		Payload:    payload,
	}, nil
}
