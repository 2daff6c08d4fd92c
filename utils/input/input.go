package input

import (
	"context"
	"errors"
	"fmt"

	"git.fiblab.net/general/common/v2/cache"
	"git.fiblab.net/general/common/v2/mongoutil"
	"git.fiblab.net/general/common/v2/protoutil"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
	"go.mongodb.org/mongo-driver/mongo"
	"google.golang.org/protobuf/proto"
)

var ErrNoMap = errors.New("no map input configured")

// LoadMap 加载地图
// 功能：从文件或MongoDB（带本地缓存）加载地图，用于离线构建路口拓扑
// 参数：c-输入配置，cacheDir-缓存目录（为空则禁用缓存）
// 返回：地图，未配置地图时返回ErrNoMap
// 说明：文件优先；未配置地图时拓扑由仿真桥接进程在线发现
func LoadMap(c config.Input, cacheDir string) (*mapv2.Map, error) {
	if c.Map == nil {
		return nil, ErrNoMap
	}
	if c.Map.File != "" {
		var m mapv2.Map
		if err := protoutil.UnmarshalFromFile(&m, c.Map.File); err != nil {
			return nil, fmt.Errorf("load map from file %s: %w", c.Map.File, err)
		}
		log.Infof("map loaded from %s: %d junctions, %d lanes", c.Map.File, len(m.Junctions), len(m.Lanes))
		return &m, nil
	}
	if !preCheckCache(cacheDir) {
		cacheDir = ""
	}
	var client *mongo.Client
	if c.URI != "" {
		client = mongoutil.NewClient(c.URI)
		defer client.Disconnect(context.Background())
	} else if !c.Map.OnlyCache {
		return nil, fmt.Errorf("map %s.%s: input.uri is required unless only_cache is set", c.Map.DB, c.Map.Col)
	}
	m, err := load[mapv2.Map](client, *c.Map, cacheDir)
	if err != nil {
		return nil, err
	}
	log.Infof("map loaded from %s.%s: %d junctions, %d lanes", c.Map.DB, c.Map.Col, len(m.Junctions), len(m.Lanes))
	return m, nil
}

// load 从MongoDB或缓存中加载数据（泛型函数）
// 说明：only_cache时不访问数据库，缓存缺失即报错
func load[T any, PT interface {
	proto.Message
	*T
}](
	client *mongo.Client,
	inputPath config.InputPath,
	cacheDir string,
) (PT, error) {
	var downloadFunc func() PT
	var downloadErr error
	if !inputPath.OnlyCache {
		coll := mongoutil.GetMongoColl(client, inputPath)
		downloadFunc = func() PT {
			pb, errs := mongoutil.DownloadPbFromMongo[T, PT](context.Background(), coll, nil, nil)
			if len(errs) > 0 {
				for _, err := range errs {
					log.Errorf("failed to download: %v", err)
				}
				downloadErr = errors.Join(errs...)
			}
			return pb
		}
	}
	log.Infof("start fetching from %s.%s", inputPath.DB, inputPath.Col)
	res, err := cache.LoadWithCache(cacheDir, inputPath, downloadFunc)
	if err != nil {
		return nil, fmt.Errorf("load %s.%s with cache: %w", inputPath.DB, inputPath.Col, err)
	}
	if downloadErr != nil {
		return nil, fmt.Errorf("download %s.%s: %w", inputPath.DB, inputPath.Col, downloadErr)
	}
	log.Infof("finish fetching from %s.%s", inputPath.DB, inputPath.Col)
	return res, nil
}
