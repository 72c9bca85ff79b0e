package browser

import (
	"net"
	"strings"
	"testing"
)

func TestLaunchArgs(t *testing.T) {
	args := launchArgs(9333, Options{
		UserDataDir: "/tmp/profile",
		Headless:    true,
		Args:        []string{"--lang=en"},
		StartURL:    "http://localhost:5173/",
	})
	joined := strings.Join(args, " ")
	for _, want := range []string{"--remote-debugging-port=9333", "--user-data-dir=/tmp/profile", "--headless=new", "--lang=en"} {
		if !strings.Contains(joined, want) {
			t.Errorf("缺少参数 %s: %v", want, args)
		}
	}
	if args[len(args)-1] != "http://localhost:5173/" {
		t.Errorf("起始页应为最后一个参数, got %v", args)
	}
}

func TestPickPort_Occupied(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	busy := l.Addr().(*net.TCPAddr).Port

	port, err := pickPort(busy)
	if err != nil {
		t.Fatal(err)
	}
	if port == busy || port == 0 {
		t.Errorf("端口被占用时应选择其他端口, got %d", port)
	}
}
