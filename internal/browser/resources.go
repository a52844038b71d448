package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockable maps CDP resource types to the names used in configuration.
var blockable = map[proto.NetworkResourceType]string{
	proto.NetworkResourceTypeImage:      "images",
	proto.NetworkResourceTypeFont:       "fonts",
	proto.NetworkResourceTypeMedia:      "media",
	proto.NetworkResourceTypeStylesheet: "stylesheets",
}

// blockSet normalises configured names. Singular forms and raw CDP type
// names are accepted.
func blockSet(types []string) map[string]bool {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if !strings.HasSuffix(t, "s") && t != "media" {
			t += "s"
		}
		set[t] = true
	}
	return set
}

func shouldBlock(set map[string]bool, t proto.NetworkResourceType) bool {
	if name, ok := blockable[t]; ok {
		return set[name]
	}
	name := strings.ToLower(string(t))
	return set[name] || set[name+"s"]
}

// blockResources fails requests for the configured types. The returned
// router must be stopped when the page closes.
func blockResources(page *rod.Page, types []string) *rod.HijackRouter {
	set := blockSet(types)
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if shouldBlock(set, h.Request.Type()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}
