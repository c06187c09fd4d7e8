package main

import (
	"bytes"
	"testing"

	"github.com/webmatic/backend/pkg/formclient"
)

func TestPrintNotice(t *testing.T) {
	var out, errOut bytes.Buffer
	printNotice(&out, &errOut, formclient.Notice{Kind: formclient.Success, Text: "ok", Reference: "3f2b9c1e"})
	if out.String() != "ok\nRéférence : 3f2b9c1e\n" || errOut.Len() != 0 {
		t.Errorf("unexpected output %q / %q", out.String(), errOut.String())
	}

	out.Reset()
	printNotice(&out, &errOut, formclient.Notice{Kind: formclient.Error, Text: "Erreur"})
	if out.Len() != 0 || errOut.String() != "Erreur\n" {
		t.Errorf("unexpected output %q / %q", out.String(), errOut.String())
	}
}
