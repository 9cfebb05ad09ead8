package voice

import "testing"

func TestStripMarkdown(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "Hello there.", want: "Hello there."},
		{name: "emphasis", in: "This is **very** _important_ and *subtle*.", want: "This is very important and subtle."},
		{name: "links", in: "See [the site](https://acme.test) now.", want: "See the site now."},
		{name: "headings", in: "# Report\n## Overview\nText", want: "Report\nOverview\nText"},
		{name: "bullets", in: "- one\n* two\n+ three", want: "one\ntwo\nthree"},
		{name: "code", in: "Run `make`:\n```sh\nmake\n```", want: "Run make:\n\nmake"},
		{name: "snake case kept", in: "the next_steps section", want: "the next_steps section"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripMarkdown(tt.in); got != tt.want {
				t.Errorf("StripMarkdown(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
