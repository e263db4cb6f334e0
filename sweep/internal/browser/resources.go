// CLAUDE:SUMMARY Blocks configured resource types (images, fonts, media, stylesheets) on Rod pages via request hijacking.
package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// resourceNames maps CDP resource types to configuration names.
var resourceNames = map[proto.NetworkResourceType]string{
	proto.NetworkResourceTypeImage:      "images",
	proto.NetworkResourceTypeFont:       "fonts",
	proto.NetworkResourceTypeMedia:      "media",
	proto.NetworkResourceTypeStylesheet: "stylesheets",
}

// blockResources hijacks requests on page and fails the blocked types.
// The returned router must be stopped when the tab closes.
func blockResources(page *rod.Page, types []string) *rod.HijackRouter {
	blockSet := make(map[string]bool, len(types))
	for _, t := range types {
		blockSet[strings.ToLower(t)] = true
	}

	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if shouldBlock(blockSet, h.Request.Type()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}

func shouldBlock(blockSet map[string]bool, t proto.NetworkResourceType) bool {
	if name, ok := resourceNames[t]; ok {
		return blockSet[name]
	}
	return blockSet[strings.ToLower(string(t))]
}
