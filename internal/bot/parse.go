package bot

import (
	"fmt"
	"strconv"
	"strings"
)

// chDeliveryToken in place of a region list enables the CH-delivery
// matching mode.
const chDeliveryToken = "ch-delivery"

// WatchRequest is a parsed /watch command.
type WatchRequest struct {
	Term     string
	Regions  []string
	CHMode   bool
	Excluded []string
	Force    bool
}

// ParseWatchArgs parses the /watch argument string:
//
//	/watch <term...> <regions> [-x species,species] [force]
//
// The term may span multiple words (a species search); the last
// positional token is the comma-separated region list or "ch-delivery".
func ParseWatchArgs(args string) (*WatchRequest, error) {
	usage := fmt.Errorf("usage: /watch <species|genus> <regions> [-x excluded,species] [force]")

	tokens := strings.Fields(args)
	req := &WatchRequest{}
	var positional []string

	for i := 0; i < len(tokens); i++ {
		switch tok := tokens[i]; {
		case tok == "-x":
			if i+1 >= len(tokens) {
				return nil, fmt.Errorf("-x needs a comma-separated species list")
			}
			i++
			for _, e := range strings.Split(tokens[i], ",") {
				if e = strings.TrimSpace(e); e != "" {
					req.Excluded = append(req.Excluded, strings.ToLower(e))
				}
			}
		case strings.EqualFold(tok, "force"):
			req.Force = true
		default:
			positional = append(positional, tok)
		}
	}

	if len(positional) < 2 {
		return nil, usage
	}

	regionsRaw := positional[len(positional)-1]
	req.Term = strings.Join(positional[:len(positional)-1], " ")

	if strings.EqualFold(regionsRaw, chDeliveryToken) {
		req.CHMode = true
	} else {
		for _, r := range strings.Split(regionsRaw, ",") {
			if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
				req.Regions = append(req.Regions, r)
			}
		}
		if len(req.Regions) == 0 {
			return nil, usage
		}
	}

	if len(req.Excluded) > 0 && strings.Contains(req.Term, " ") {
		return nil, fmt.Errorf("-x only applies to genus searches (single-word term)")
	}

	return req, nil
}

// ParseIDArg parses a single numeric ID argument.
func ParseIDArg(args string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid ID %q", args)
	}
	return id, nil
}

// ParseIDList parses a comma-separated list of numeric IDs.
func ParseIDList(args string) ([]int64, error) {
	var ids []int64
	for _, s := range strings.Split(args, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid ID %q", s)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no IDs given")
	}
	return ids, nil
}
