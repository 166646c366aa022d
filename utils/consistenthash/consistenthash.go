// Package consistenthash maps keys onto a set of named nodes so that adding
// or removing a node only moves the keys that node owned.
package consistenthash

import (
	"slices"
	"sort"
	"strconv"
	"sync"

	"github.com/twmb/murmur3"
)

// Hash 定义哈希函数
type Hash func(data []byte) uint32

// Ring 一致性哈希环
type Ring struct {
	mu       sync.RWMutex
	hash     Hash
	replicas int               // 每个节点的虚拟节点数
	keys     []uint32          // 排序后的环上位置
	owners   map[uint32]string // 环上位置 -> 节点
	nodes    map[string]struct{}
}

// DefaultReplicas 未指定虚拟节点数时的默认值
const DefaultReplicas = 50

// New 创建哈希环，fn 为 nil 时使用 murmur3
func New(replicas int, fn Hash) *Ring {
	if replicas <= 0 {
		replicas = DefaultReplicas
	}
	if fn == nil {
		fn = murmur3.Sum32
	}
	return &Ring{
		hash:     fn,
		replicas: replicas,
		owners:   make(map[uint32]string),
		nodes:    make(map[string]struct{}),
	}
}

func virtualKey(node string, i int) []byte {
	return []byte(node + "#" + strconv.Itoa(i))
}

// Add 添加节点，空名与重复节点忽略
func (r *Ring) Add(nodes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, node := range nodes {
		if node == "" {
			continue
		}
		if _, ok := r.nodes[node]; ok {
			continue
		}
		r.nodes[node] = struct{}{}
		for i := 0; i < r.replicas; i++ {
			h := r.hash(virtualKey(node, i))
			// 哈希冲突时保留先加入的节点
			if _, taken := r.owners[h]; taken {
				continue
			}
			r.owners[h] = node
			r.keys = append(r.keys, h)
		}
	}
	slices.Sort(r.keys)
}

// Remove 移除节点及其所有虚拟节点
func (r *Ring) Remove(nodes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, node := range nodes {
		if _, ok := r.nodes[node]; !ok {
			continue
		}
		delete(r.nodes, node)
		for i := 0; i < r.replicas; i++ {
			h := r.hash(virtualKey(node, i))
			if r.owners[h] == node {
				delete(r.owners, h)
			}
		}
	}

	r.keys = r.keys[:0]
	for h := range r.owners {
		r.keys = append(r.keys, h)
	}
	slices.Sort(r.keys)
}

// Get 返回 key 所属节点，环为空时返回空串
func (r *Ring) Get(key string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.keys) == 0 {
		return ""
	}

	h := r.hash([]byte(key))
	// 顺时针找到第一个 >= h 的位置，越界则回到环首
	idx := sort.Search(len(r.keys), func(i int) bool { return r.keys[i] >= h })
	if idx == len(r.keys) {
		idx = 0
	}
	return r.owners[r.keys[idx]]
}

// Size 返回真实节点数量
func (r *Ring) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}
