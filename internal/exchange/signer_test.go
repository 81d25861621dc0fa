package exchange

import "testing"

func TestSignerKnownVector(t *testing.T) {
	// Published example vector from the exchange API docs.
	s := NewSigner(
		"vmPUZE6mv9SD5VNHk4HlWFsOr6aKE2zvsw0MuIgwCIPy6utIco14y7Ju91duEh8A",
		"NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j",
	)
	query := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	want := "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71"

	if got := s.Sign(query); got != want {
		t.Errorf("Sign() = %s, want %s", got, want)
	}
}

func TestSignerWipe(t *testing.T) {
	s := NewSigner("key", "secret")
	s.Wipe()

	if s.APIKey() != "\x00\x00\x00" {
		t.Error("Wipe should zero the api key bytes")
	}
	// Signing after wipe must not panic, the result is just garbage.
	_ = s.Sign("a=b")

	var nilSigner *Signer
	nilSigner.Wipe()
}
