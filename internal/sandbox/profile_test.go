package sandbox

import "testing"

func TestSelectProfile_HintWins(t *testing.T) {
	if got := SelectProfile(ProfileEnhanced, "print(1)"); got != ProfileEnhanced {
		t.Errorf("got %q, want enhanced", got)
	}
	if got := SelectProfile(ProfileBasic, "import numpy"); got != ProfileBasic {
		t.Errorf("got %q, want basic (hint should win over code scan)", got)
	}
}

func TestSelectProfile_DetectsScientificImports(t *testing.T) {
	cases := []string{
		"import numpy as np",
		"from scipy import stats",
		"import pandas as pd",
		"df = pd.DataFrame()",
		"import matplotlib.pyplot as plt",
		"import requests",
	}
	for _, code := range cases {
		if got := SelectProfile("", code); got != ProfileEnhanced {
			t.Errorf("SelectProfile(%q) = %q, want enhanced", code, got)
		}
	}
}

func TestSelectProfile_DefaultsToBasic(t *testing.T) {
	if got := SelectProfile("", "print('hello')"); got != ProfileBasic {
		t.Errorf("got %q, want basic", got)
	}
}
