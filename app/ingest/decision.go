package ingest

import (
	e "nuclight.org/tg-archive-bot/pkg/entities"
	"nuclight.org/tg-archive-bot/pkg/hash"
)

// mediaResult is what the I/O layer learned about a message's attachment.
// A nil *mediaResult means the message carried no media at all; failed
// means it carried media the collaborator could not deliver.
type mediaResult struct {
	media   e.Media
	existed bool
	failed  bool
}

// resolution is the classification decision for one message: which
// fingerprint the row stores, which fingerprint the duplicate lookup runs
// against, and whether the row is a duplicate regardless of that lookup.
type resolution struct {
	contentHash    string
	dedupHash      string
	mediaID        *string
	forceDuplicate bool
}

// resolveLive decides fingerprints for a live-stream message. Media content
// wins over text; a failed media fetch degrades to text-only hashing. The
// content and dedup fingerprints are always the same key in live mode.
func resolveLive(senderID, body string, media *mediaResult) resolution {
	if media != nil && !media.failed {
		id := media.media.ID
		return resolution{
			contentHash: media.media.FileHash,
			dedupHash:   media.media.FileHash,
			mediaID:     &id,
		}
	}

	textHash := hash.Text(senderID, body)
	return resolution{
		contentHash: textHash,
		dedupHash:   textHash,
	}
}

// resolveImport decides fingerprints for a bulk-imported message. The
// stored fingerprint is salted with the upstream message id so separate
// imports stay distinguishable, while the duplicate lookup runs against
// the unsalted sender+body fingerprint to catch content already seen live.
// Media that is already known marks the row duplicate unconditionally:
// identical media re-sent during backfill is treated as noise.
func resolveImport(senderID, body, sourceID string, media *mediaResult) resolution {
	res := resolution{
		contentHash: hash.Text(senderID, body+sourceID),
		dedupHash:   hash.Text(senderID, body),
	}

	if media != nil && !media.failed {
		id := media.media.ID
		res.contentHash = media.media.FileHash
		res.mediaID = &id
		res.forceDuplicate = media.existed
	}

	return res
}
