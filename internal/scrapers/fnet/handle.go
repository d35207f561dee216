package fnet

import "regexp"

// the submit response links to the prepared archive through the status page,
// ex. <a href="dataget.cgi?data=NIED_12345.zip&...">
var dataHandleRegex = regexp.MustCompile(`dataget\.cgi\?data=(NIED_\d+\.zip)&`)

// ExtractDataHandle finds the data handle in a submit response body.
func ExtractDataHandle(body string) (DataHandle, bool) {
	groups := dataHandleRegex.FindStringSubmatch(body)
	if len(groups) < 2 {
		return "", false
	}
	return DataHandle(groups[1]), true
}
