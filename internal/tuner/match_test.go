package tuner

import "testing"

func TestChannelMatch_ShortFirstWordStoplist(t *testing.T) {
	// A row that shares only the first word "fox" and a bare " 2 " must not
	// match channel "FOX News Channel" / "2": "fox" is stoplisted (and too
	// short for the first-word matcher), and the short number "2" is matched
	// as the zero-padded " 02 ", which "fox sports 2" does not contain.
	matchers := channelMatchers("FOX News Channel", "2", nil)
	if matchChannelLabel("Fox Sports 2", matchers) {
		t.Fatal("row sharing only the stoplisted first word should not match")
	}
}

func TestChannelMatch_TwoDigitNumberPadded(t *testing.T) {
	matchers := channelMatchers("Local 5", "05", nil)
	if !matchChannelLabel("05 Local News", matchers) {
		t.Error("expected '05' to match row labelled '05 Local News'")
	}
	if matchChannelLabel("502 Sports Extra", matchers) {
		t.Error("'05' must not match row labelled '502 Sports Extra'")
	}
}

func TestChannelMatch_ThreeDigitNumberNotPaddedWithLeadingZero(t *testing.T) {
	matchers := channelMatchers("Sports Extra", "502", nil)
	if !matchChannelLabel("502 Sports Extra", matchers) {
		t.Error("expected '502' to match its own row")
	}
}

func TestChannelMatch_SearchTermsHighestPriority(t *testing.T) {
	matchers := channelMatchers("Local Affiliate", "7", []string{"KXYZ"})
	if !matchChannelLabel("KXYZ Local News", matchers) {
		t.Error("expected search term KXYZ to match")
	}
}

func TestChannelMatch_NonNumericNumberSkipsPaddedMatcher(t *testing.T) {
	// "7A" isn't a plain channel number (sub-channel suffix); it must not
	// produce a padded " 7a " number matcher, only the name-based ones.
	matchers := channelMatchers("Local Affiliate", "7A", nil)
	if matchChannelLabel("7A Digital Subchannel", matchers) {
		t.Error("non-numeric channel number should not be used as a padded number matcher")
	}
	if !matchChannelLabel("Local Affiliate News", matchers) {
		t.Error("expected full-name matcher to still match")
	}
}

func TestChannelMatch_FirstWordStoplistRejectsShortNetworkPrefix(t *testing.T) {
	matchers := channelMatchers("CNN International", "99", nil)
	// "cnn" is in the stoplist so a bare "cnn" substring match must not be
	// offered as a first-word matcher; only exact number/name matches count.
	if matchChannelLabel("Random CNN Mention In Description", matchers) {
		t.Error("stoplisted first word should not be used as a standalone matcher")
	}
}
