package session

import (
	"strings"
	"testing"

	"github.com/aigoflow/executor-service/internal/config"
	"github.com/aigoflow/executor-service/internal/ipc"
)

func TestSelectProxyWithoutAddrFails(t *testing.T) {
	cfg := &config.Config{SpawnProxy: true}
	if _, err := Select(cfg); err == nil {
		t.Fatal("Select accepted proxy mode without an address")
	}

	// Construction must fail too, before any worker interaction.
	addrs := ipc.NewWorkerAddrs("test")
	if _, err := New(cfg, addrs, 2); err == nil {
		t.Fatal("New constructed a session from a broken proxy configuration")
	}
}

func TestSelectProxyWithAddr(t *testing.T) {
	cfg := &config.Config{SpawnProxy: true, SpawnProxyAddr: "executor.proxy.mgr"}
	kind, err := Select(cfg)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if kind != KindRemoteProxy {
		t.Errorf("Expected remote-proxy, got %s", kind)
	}

	sess, err := New(cfg, ipc.NewWorkerAddrs("test"), 2)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer sess.Shutdown()
	proxy, ok := sess.(*RemoteProxySession)
	if !ok {
		t.Fatalf("Expected *RemoteProxySession, got %T", sess)
	}
	if proxy.ProxyAddr() != "executor.proxy.mgr" {
		t.Errorf("Wrong proxy address: %q", proxy.ProxyAddr())
	}
}

func TestSelectDefaultsToAttachedGroup(t *testing.T) {
	cfg := &config.Config{}
	kind, err := Select(cfg)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if kind != KindAttachedGroup {
		t.Errorf("Expected attached-group, got %s", kind)
	}

	addrs := ipc.NewWorkerAddrs("test")
	sess, err := New(cfg, addrs, 4)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer sess.Shutdown()
	attached, ok := sess.(*AttachedGroupSession)
	if !ok {
		t.Fatalf("Expected *AttachedGroupSession, got %T", sess)
	}
	if attached.Addrs() != addrs {
		t.Error("Attached session lost its address bundle")
	}
}

func TestAttachedGroupRejectsIncompleteAddrs(t *testing.T) {
	addrs := ipc.NewWorkerAddrs("test")
	addrs.Result = ""
	if _, err := NewAttachedGroup("nats://127.0.0.1:4222", addrs, 2); err == nil {
		t.Fatal("Attached to a group with an incomplete address set")
	} else if !strings.Contains(err.Error(), "result") {
		t.Errorf("Error does not name the missing address: %v", err)
	}
}
