package twire

import (
	"slices"

	"github.com/golang/snappy"
)

// MaxAssetsPushContent bounds the total uncompressed size
// of the assets carried by one [AssetsPush].
const MaxAssetsPushContent = 12 << 20

// entryOverhead covers the tag byte and the length prefixes of one entry.
const entryOverhead = 2 * 10

// BatchAssets splits assets into AssetsPush messages
// that each encode within [MaxFrameSize]
// and decode within [MaxAssetsPushContent].
//
// Assets are batched in name order.
// An asset that cannot fit in any message on its own
// is left out and its name is returned in oversize.
func BatchAssets(assets map[string][]byte) (batches []AssetsPush, oversize []string) {
	names := make([]string, 0, len(assets))
	for name := range assets {
		names = append(names, name)
	}
	slices.Sort(names)

	var cur AssetsPush
	var content, encoded int
	for _, name := range names {
		b := assets[name]
		n := len(b)
		ml := snappy.MaxEncodedLen(n)
		e := len(name) + ml + entryOverhead
		if n > MaxAssetsPushContent || ml < 0 || e > MaxFrameSize-entryOverhead {
			oversize = append(oversize, name)
			continue
		}

		if cur.Assets != nil &&
			(content+n > MaxAssetsPushContent || encoded+e > MaxFrameSize-entryOverhead) {
			batches = append(batches, cur)
			cur = AssetsPush{}
			content, encoded = 0, 0
		}
		if cur.Assets == nil {
			cur.Assets = make(map[string][]byte)
		}
		cur.Assets[name] = b
		content += n
		encoded += e
	}
	if cur.Assets != nil {
		batches = append(batches, cur)
	}
	return batches, oversize
}
